package process

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/queuerunner/internal/core/domain"
)

// Operation is the business step applied to each queue item. It returns a
// business error (domain.NewBusinessError) when the item itself is at fault;
// any other error is treated as an environment failure. Returning
// domain.NewProcessError keeps the operation's own stack in the traceback;
// plain errors get the stack of the runner that classified them, and panics
// the stack of the panic.
type Operation interface {
	Process(ctx context.Context, payload map[string]any, reference string) error
}

// OperationFunc adapts a function to Operation.
type OperationFunc func(ctx context.Context, payload map[string]any, reference string) error

// Process implements Operation.
func (f OperationFunc) Process(ctx context.Context, payload map[string]any, reference string) error {
	return f(ctx, payload, reference)
}

// RequireFields is the default operation: it only checks that the item
// carries a payload and a reference.
var RequireFields Operation = OperationFunc(func(ctx context.Context, payload map[string]any, reference string) error {
	if len(payload) == 0 {
		return errors.New("item has no data")
	}
	if reference == "" {
		return errors.New("item has no reference")
	}
	return nil
})

// Classify tags err for the processing loop. Business errors keep their tag;
// everything else becomes a process error.
func Classify(err error) *domain.ItemError {
	var ie *domain.ItemError
	if errors.As(err, &ie) && ie.Kind == domain.KindBusiness {
		return ie
	}
	return domain.NewProcessError(err)
}

func recovered(p any) error {
	if err, ok := p.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", p)
}
