package quota

import (
	"github.com/baroworks/taxbill/internal/quota/repository"
	"github.com/baroworks/taxbill/internal/quota/service"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
