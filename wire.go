//go:build wireinject

package postbox

import (
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/totegamma/postbox/core"

	"github.com/totegamma/postbox/x/account"
	"github.com/totegamma/postbox/x/agent"
	"github.com/totegamma/postbox/x/auth"
	"github.com/totegamma/postbox/x/jwt"
	"github.com/totegamma/postbox/x/mail"
	"github.com/totegamma/postbox/x/socket"
)

// Lv0
var tokenServiceProvider = wire.NewSet(jwt.NewService)

// Lv1
var accountServiceProvider = wire.NewSet(
	account.NewService,
	account.NewRepository,
	account.NewLimiter,
	account.NewCaptchaVerifier,
	SetupTokenService,
)

// Lv2
var authServiceProvider = wire.NewSet(auth.NewService, SetupTokenService, SetupAccountService)
var mailServiceProvider = wire.NewSet(mail.NewService, mail.NewRepository, SetupAccountService)

// Lv3
var socketHandlerProvider = wire.NewSet(socket.NewHandler, SetupAuthService)
var agentProvider = wire.NewSet(agent.NewAgent, SetupMailService, SetupAccountService)

// -----------

func SetupTokenService(config core.Config) core.TokenService {
	wire.Build(tokenServiceProvider)
	return nil
}

func SetupAccountService(db *gorm.DB, rdb *redis.Client, mc *memcache.Client, config core.Config) core.AccountService {
	wire.Build(accountServiceProvider)
	return nil
}

func SetupAuthService(db *gorm.DB, rdb *redis.Client, mc *memcache.Client, config core.Config) core.AuthService {
	wire.Build(authServiceProvider)
	return nil
}

func SetupMailService(
	db *gorm.DB,
	rdb *redis.Client,
	mc *memcache.Client,
	dispatcher core.NotificationDispatcher,
	blobs core.BlobStore,
	config core.Config,
) core.MailService {
	wire.Build(mailServiceProvider)
	return nil
}

func SetupSocketHandler(
	db *gorm.DB,
	rdb *redis.Client,
	mc *memcache.Client,
	registry core.ConnectionRegistry,
	metrics *socket.Metrics,
	config core.Config,
) socket.Handler {
	wire.Build(socketHandlerProvider)
	return nil
}

func SetupAgent(
	db *gorm.DB,
	rdb *redis.Client,
	mc *memcache.Client,
	registry core.ConnectionRegistry,
	heartbeat *socket.Heartbeat,
	dispatcher core.NotificationDispatcher,
	blobs core.BlobStore,
	config core.Config,
	reg prometheus.Registerer,
) core.AgentService {
	wire.Build(agentProvider)
	return nil
}
