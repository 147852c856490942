package ledger

const (
	operationAppend = "append"
	operationCredit = "credit"
	operationDebit  = "debit"

	operationStatusOK        = "ok"
	operationStatusError     = "error"
	operationStatusDuplicate = "duplicate"
	operationStatusRejected  = "rejected"

	idempotencyKeyDelimiter = ":"
	scopeKeyPersonalPrefix  = "user"
	scopeKeyCirclePrefix    = "circle"
	maxIdempotencyKeyLength = 200
	maxRequestIDLength      = 128
)
