package logging

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldAccountBook = "account_book_id"
	FieldOwner       = "owner"
	FieldOwnerKind   = "owner_kind"
	FieldOwnerRef    = "owner_ref"
	FieldCategory    = "category_id"
	FieldChain       = "chain"
	FieldCycle       = "cycle"
	FieldBudgetID    = "budget_id"
	FieldAsOf        = "as_of"
	FieldCreated     = "created"
	FieldFailures    = "failures"
	FieldWarnings    = "warnings"
	FieldSkipped     = "skipped"
	FieldRollover    = "rollover"
	FieldSpent       = "spent"
	FieldDuration    = "duration_ms"
	FieldDriver      = "driver"
	FieldAttempt     = "attempt"
	FieldBooks       = "books"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentEngine    = "engine"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentRateLimit = "rate_limit"
	ComponentCLI       = "cli"
	ComponentScheduler = "scheduler"
)

// Operations defines standard operation names
const (
	OpEnsure   = "ensure"
	OpActive   = "active"
	OpHistory  = "history"
	OpPublish  = "publish"
	OpMigrate  = "migrate"
	OpConnect  = "connect"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
	OpSweep    = "sweep"
)
