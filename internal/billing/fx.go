package billing

import (
	"github.com/baroworks/taxbill/internal/billing/repository"
	"github.com/baroworks/taxbill/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
