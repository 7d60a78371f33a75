// Package pg holds the PostgreSQL plumbing shared by the service: a pgx pool
// with connect-time retries, goose migrations read from an fs.FS, a readiness
// probe, SQLSTATE classification helpers, and a Transactor that carries a
// serializable pgx.Tx through context.Context.
//
// Repositories call Executor(ctx, pool) for every query. Inside
// Transactor.InTx that returns the active transaction, otherwise the pool,
// so the same repository method composes into larger units of work without
// knowing about them.
//
//	tr := pg.NewTransactor(pool, cfg)
//	err := tr.InTx(ctx, func(ctx context.Context) error {
//	    if err := orders.Create(ctx, o); err != nil {
//	        return err
//	    }
//	    return subs.Create(ctx, s)
//	})
//	if pg.IsDuplicateKeyError(err) {
//	    // a concurrent writer won the race
//	}
package pg
