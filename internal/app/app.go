package app

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientflow/internal/booking"
	"github.com/smallbiznis/clientflow/internal/clock"
	"github.com/smallbiznis/clientflow/internal/config"
	"github.com/smallbiznis/clientflow/internal/contact"
	"github.com/smallbiznis/clientflow/internal/invoice"
	"github.com/smallbiznis/clientflow/internal/ledger"
	"github.com/smallbiznis/clientflow/internal/observability"
	"github.com/smallbiznis/clientflow/internal/payment"
	"github.com/smallbiznis/clientflow/internal/providers/email"
	"github.com/smallbiznis/clientflow/internal/ratelimit"
	"github.com/smallbiznis/clientflow/internal/seed"
	"github.com/smallbiznis/clientflow/internal/tag"
	"github.com/smallbiznis/clientflow/internal/tenant"
	"github.com/smallbiznis/clientflow/internal/webhook"
	"github.com/smallbiznis/clientflow/internal/workflow"
	"github.com/smallbiznis/clientflow/pkg/db"
	"go.uber.org/fx"
)

// Infrastructure is shared by every process: config, logging, ids, the
// database handle and the clock.
var Infrastructure = fx.Options(
	config.Module,
	observability.Module,
	fx.Provide(RegisterSnowflake),
	db.Module,
	clock.Module,
)

// Domains wires every domain service without any transport.
var Domains = fx.Options(
	tenant.Module,
	contact.Module,
	tag.Module,
	ledger.Module,
	invoice.Module,
	email.Module,
	webhook.Module,
	workflow.Module,
	ratelimit.Module,
	booking.Module,
	payment.Module,
	seed.Module,
)

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
