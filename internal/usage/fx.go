package usage

import (
	"github.com/baroworks/taxbill/internal/usage/repository"
	"github.com/baroworks/taxbill/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
