package payment

import (
	"github.com/baroworks/taxbill/internal/payment/repository"
	"github.com/baroworks/taxbill/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
