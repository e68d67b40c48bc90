package demo

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"connectorcore/internal/auth"
	"connectorcore/internal/config"
	"connectorcore/internal/connector"
	"connectorcore/internal/eventbus"
	"connectorcore/internal/orderbook"
	"connectorcore/internal/throttler"
	"connectorcore/internal/timesync"
	"connectorcore/internal/userstream"
	"connectorcore/internal/wsassistant"
	"connectorcore/pkg/types"
)

// defaultFeeSchema is the demo venue's published maker/taker rates.
var defaultFeeSchema = types.TradeFeeSchema{
	MakerPercent: mustDecimal("0.0002"),
	TakerPercent: mustDecimal("0.0006"),
}

// subscribeMsg is the wire shape of both the public diff/trade subscribe
// request and the private channel subscribe request.
type subscribeMsg struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func subscribeFunc(ids []string, unsubscribe bool) any {
	op := "subscribe"
	if unsubscribe {
		op = "unsubscribe"
	}
	return subscribeMsg{Op: op, Args: ids}
}

// nativeSymbolFor mirrors the demo venue's wire convention: BASE-QUOTE ->
// BASEQUOTE, e.g. "BTC-USDT" -> "BTCUSDT".
func nativeSymbolFor(pair types.TradingPair) string {
	return strings.ReplaceAll(string(pair), "-", "")
}

// Connect builds a fully wired connector.BaseConnector for the demo venue
// from cfg: throttler limits, HMAC signing, REST/WS assistants, order book
// and user stream trackers, and (if cfg.Perpetual) the funding poll loop.
// bus is shared across every venue the process connects to.
func Connect(name string, cfg config.VenueConfig, bus *eventbus.PubSub, logger *slog.Logger) (connector.Connector, error) {
	if cfg.RESTBaseURL == "" {
		return nil, fmt.Errorf("venue %s: rest_base_url is required", name)
	}

	pairs := make([]types.TradingPair, 0, len(cfg.Pairs))
	symbols := types.NewSymbolMap()
	for _, raw := range cfg.Pairs {
		base, quote, ok := cutPair(raw)
		if !ok {
			return nil, fmt.Errorf("venue %s: invalid pair %q, want BASE-QUOTE", name, raw)
		}
		pair := types.NewTradingPair(base, quote)
		pairs = append(pairs, pair)
		symbols.Add(pair, nativeSymbolFor(pair))
	}

	th := throttler.New()
	for _, rl := range cfg.RateLimits {
		th.RegisterLimit(types.RateLimit{
			ID:       rl.ID,
			Capacity: rl.Capacity,
			Window:   rl.Window,
			Weight:   rl.Weight,
			LinkedTo: rl.LinkedTo,
		})
	}

	signer := auth.NewHMACSigner(auth.Credentials{
		APIKey:     cfg.ApiKey,
		Secret:     cfg.Secret,
		Passphrase: cfg.Passphrase,
	}, "X-DEMO-TIMESTAMP", "X-DEMO-SIGNATURE", "X-DEMO-API-KEY", "X-DEMO-PASSPHRASE")

	clock := timesync.New()
	rest := wsassistant.New(cfg.RESTBaseURL, 10*time.Second, th, signer, clock, nil, logger)

	publicWS := wsassistant.New(cfg.WSPublicURL, subscribeFunc, logger)
	bookSource := NewBookSource(rest, publicWS, symbols)
	bookTracker := orderbook.NewTracker(bookSource, time.Hour, logger)

	var userTracker *userstream.Tracker
	var decoder connector.UserStreamDecoder
	if cfg.WSPrivateURL != "" {
		privateWS := wsassistant.New(cfg.WSPrivateURL, subscribeFunc, logger)
		userSource := NewUserStreamSource(privateWS, cfg.ApiKey)
		userTracker = userstream.NewTracker(userSource, 1000, logger)
		decoder = NewDecoder(symbols)
	}

	fundingInterval := cfg.FundingFeePollInterval

	var c *connector.BaseConnector
	if cfg.Perpetual {
		venue := New(name, rest, symbols, defaultFeeSchema, fundingInterval)
		c = connector.NewPerpetual(name, pairs, venue, bookTracker, userTracker, bus, logger)
	} else {
		venue := New(name, rest, symbols, defaultFeeSchema, fundingInterval)
		c = connector.New(name, pairs, venue, bookTracker, userTracker, bus, logger)
	}
	if decoder != nil {
		c = c.WithUserStreamDecoder(decoder)
	}
	return c, nil
}

func cutPair(raw string) (base, quote string, ok bool) {
	idx := strings.IndexByte(raw, '-')
	if idx <= 0 || idx == len(raw)-1 {
		return "", "", false
	}
	return raw[:idx], raw[idx+1:], true
}
