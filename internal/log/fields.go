package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldCorrelationID = "correlation_id"
	FieldUserID        = "user_id"
	FieldReceiptID     = "receipt_id"
	FieldCanonicalID   = "canonical_item_id"
	FieldCategoryID    = "category_id"
	FieldItemName      = "item_name"
	FieldCategoryName  = "category_name"
	FieldAttempt       = "attempt"
	FieldDuration      = "duration_ms"
	FieldOperation     = "operation"
	FieldError         = "error"
	FieldCount         = "count"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentStorage    = "storage"
	ComponentResolution = "resolution"
	ComponentCategorize = "categorize"
	ComponentReconcile  = "reconcile"
	ComponentIngest     = "ingest"
	ComponentOracle     = "oracle"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentRules      = "rules"
	ComponentCache      = "cache"
)

// Operations defines standard operation names
const (
	OpResolve    = "resolve"
	OpCategorize = "categorize"
	OpBulk       = "categorize_bulk"
	OpRuleJob    = "rule_job"
	OpAutoBatch  = "auto_categorize"
	OpReconcile  = "reconcile"
	OpIngest     = "ingest"
	OpStartup    = "startup"
	OpShutdown   = "shutdown"
)
