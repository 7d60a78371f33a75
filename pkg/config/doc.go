// Package config loads typed configuration from environment variables.
//
// Structs declare their variables with caarlos0/env tags. Load parses each
// struct type once per process and caches it, so packages can call Load for
// the config they own without threading values through every constructor.
// An optional .env file is read through godotenv before the first parse.
// Types implementing Validator are checked right after parsing.
package config
