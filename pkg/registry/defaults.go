package registry

import (
	"net/http"

	"github.com/dukex/flowgate/pkg/executors/condition"
	"github.com/dukex/flowgate/pkg/executors/delay"
	"github.com/dukex/flowgate/pkg/executors/httpcall"
	"github.com/dukex/flowgate/pkg/executors/itsm"
	"github.com/dukex/flowgate/pkg/expression"
	"github.com/dukex/flowgate/pkg/protocol"
)

// Defaults carries the shared clients of the built-in executors.
type Defaults struct {
	ITSM       *itsm.Client
	HTTPClient *http.Client
	Evaluator  *expression.Evaluator
}

// RegisterDefaults registers an executor for every built-in step type.
func (r *Registry) RegisterDefaults(defaults Defaults) error {
	client := defaults.ITSM
	if client == nil {
		client = itsm.NewClient("", "", nil)
	}

	factories := []protocol.ExecutorFactory{
		itsm.NewActionFactory(client),
		itsm.NewNotificationFactory(client),
		itsm.NewFieldUpdateFactory(client),
		itsm.NewAssignmentFactory(client),
		itsm.NewCreateRecordFactory(client),
		condition.NewFactory(defaults.Evaluator),
		delay.NewFactory(),
		httpcall.NewFactory(defaults.HTTPClient),
	}

	for _, factory := range factories {
		if err := r.Register(factory); err != nil {
			return err
		}
	}

	return nil
}
