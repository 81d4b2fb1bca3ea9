/*
main.go - Application entry point

PURPOSE:
  budgetd runs the budget period and rollover engine: an HTTP server that
  opens budget cycles on demand and on a schedule, plus operator commands
  for the same operations from a shell.

COMMANDS:
  serve     HTTP API, periodic refresh and graceful shutdown
  refresh   Bring one account book up to date and print what was created
  active    Show the budget covering a date for one chain
  history   Print a chain's cycle closings and their replay summary
  owner     Register an owner eligible for budgets in a book
  create    Create the first budget of a chain
  migrate   Apply database migrations and exit

CONFIGURATION:
  Defaults, then the TOML file (--config or BUDGETD_CONFIG), then .env
  (or ENV_FILE), then environment variables. See config/config.go.

EXAMPLES:
  # Run with the default SQLite database
  ./budgetd serve

  # Run against Postgres with events
  DB_DRIVER=postgres DATABASE_URL=postgres://... AMQP_URL=amqp://... ./budgetd serve

  # Catch a book up from the shell
  ./budgetd refresh family-42 --as-of 2024-07-15

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - budget/instantiator.go: The engine
*/
package main

func main() {
	Execute()
}
