// Package validator builds declarative validation from small Rule values.
//
// Each rule pairs a check with the error reported when it fails; Apply runs a
// list of rules and returns every failure as ValidationErrors, so an API can
// report all bad fields at once.
//
//	err := validator.Apply(
//		validator.RequiredUUID("plan_id", req.PlanID),
//		validator.ValidCardNumber("payment_method.card_number", req.Card.Number),
//		validator.ValidCardExpiry("payment_method.card_exp_month", req.Card.ExpMonth, req.Card.ExpYear, time.Now()),
//	)
//	if ve := validator.ExtractValidationErrors(err); ve != nil {
//		// ve.Fields() -> {"payment_method.card_number": ["invalid card number"]}
//	}
package validator
