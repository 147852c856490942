package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation      string
	Scope          AccountScope
	Reason         Reason
	Delta          Delta
	Balance        Points
	RequestID      RequestID
	IdempotencyKey IdempotencyKey
	Metadata       MetadataJSON
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithAccountLocker replaces the in-process account locker.
func WithAccountLocker(locker AccountLocker) ServiceOption {
	return func(service *Service) {
		if locker != nil {
			service.locker = locker
		}
	}
}

// Status values reported in OperationLog.
const (
	StatusOK        = operationStatusOK
	StatusError     = operationStatusError
	StatusDuplicate = operationStatusDuplicate
	StatusRejected  = operationStatusRejected
)
