package issuance

import (
	"github.com/baroworks/taxbill/internal/config"
	"github.com/baroworks/taxbill/internal/issuance/provider"
	"github.com/baroworks/taxbill/internal/issuance/provider/barobill"
	"github.com/baroworks/taxbill/internal/issuance/repository"
	"github.com/baroworks/taxbill/internal/issuance/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("issuance.service",
	fx.Provide(provideProviderClient),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

func provideProviderClient(cfg config.Config, log *zap.Logger) provider.Client {
	return barobill.New(cfg.Provider, log)
}
