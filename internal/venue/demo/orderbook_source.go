package demo

import (
	"context"
	"encoding/json"
	"fmt"

	"connectorcore/internal/orderbook"
	"connectorcore/internal/wsassistant"
	"connectorcore/pkg/types"
)

// BookSource implements orderbook.DataSource against the demo venue's
// public REST snapshot endpoint and a single shared public websocket
// carrying every subscribed pair's diffs and trade tape.
type BookSource struct {
	rest    *wsassistant.RESTAssistant
	ws      *wsassistant.WSAssistant
	symbols *types.SymbolMap
}

// NewBookSource creates a BookSource. ws is expected to already be wired
// to the venue's public feed URL via wsassistant.New with a subscribeFunc
// that builds this venue's channel-subscribe wire message.
func NewBookSource(rest *wsassistant.RESTAssistant, ws *wsassistant.WSAssistant, symbols *types.SymbolMap) *BookSource {
	return &BookSource{rest: rest, ws: ws, symbols: symbols}
}

var _ orderbook.DataSource = (*BookSource)(nil)

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookSnapshotResp struct {
	Bids     []bookLevel `json:"bids"`
	Asks     []bookLevel `json:"asks"`
	UpdateID int64       `json:"updateId"`
}

// FetchSnapshot retrieves pair's full book over REST.
func (s *BookSource) FetchSnapshot(ctx context.Context, pair types.TradingPair) (types.BookSnapshotMsg, error) {
	symbol, ok := s.symbols.Native(pair)
	if !ok {
		return types.BookSnapshotMsg{}, fmt.Errorf("no native symbol mapping for pair %s", pair)
	}

	var resp bookSnapshotResp
	if err := s.rest.Call(ctx, wsassistant.CallParams{
		Method:  "GET",
		Path:    "/v1/book/snapshot",
		Query:   map[string]string{"symbol": symbol, "depth": "100"},
		LimitID: "book",
	}, &resp); err != nil {
		return types.BookSnapshotMsg{}, fmt.Errorf("fetch book snapshot for %s: %w", pair, err)
	}

	return types.BookSnapshotMsg{
		Pair:     pair,
		Bids:     levelsToPriceLevels(resp.Bids),
		Asks:     levelsToPriceLevels(resp.Asks),
		UpdateID: resp.UpdateID,
	}, nil
}

func levelsToPriceLevels(levels []bookLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, types.PriceLevel{Price: mustDecimal(l.Price), Size: mustDecimal(l.Size)})
	}
	return out
}

// wireMessage is the shape of every frame the demo venue's public feed
// sends: "diff" for an incremental book update, "trade" for a public fill.
// A diff carries both updateId and prevUpdateId so a gap in the stream
// (a missed message) can be detected without waiting on the periodic
// re-snapshot timer.
type wireMessage struct {
	Channel      string      `json:"channel"`
	Symbol       string      `json:"symbol"`
	Bids         []bookLevel `json:"bids"`
	Asks         []bookLevel `json:"asks"`
	UpdateID     int64       `json:"updateId"`
	PrevUpdateID int64       `json:"prevUpdateId"`
	Price        string      `json:"price"`
	Size         string      `json:"size"`
	Side         string      `json:"side"`
	Ts           int64       `json:"ts"`
}

// Subscribe opens the shared public feed (if not already running) and
// demultiplexes it into separate diff and trade channels for pairs.
func (s *BookSource) Subscribe(ctx context.Context, pairs []types.TradingPair) (<-chan types.BookDiffMsg, <-chan types.TradeMsg, error) {
	ids := make([]string, 0, len(pairs))
	nativeToCanonical := make(map[string]types.TradingPair, len(pairs))
	for _, p := range pairs {
		symbol, ok := s.symbols.Native(p)
		if !ok {
			return nil, nil, fmt.Errorf("no native symbol mapping for pair %s", p)
		}
		ids = append(ids, symbol)
		nativeToCanonical[symbol] = p
	}

	go func() {
		if err := s.ws.Run(ctx); err != nil && ctx.Err() == nil {
			_ = err // WSAssistant logs its own reconnects; nothing further to surface here.
		}
	}()
	if err := s.ws.Subscribe(ids); err != nil {
		return nil, nil, fmt.Errorf("subscribe book channel: %w", err)
	}

	diffs := make(chan types.BookDiffMsg, 256)
	trades := make(chan types.TradeMsg, 256)

	go func() {
		defer close(diffs)
		defer close(trades)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-s.ws.Messages():
				if !ok {
					return
				}
				var msg wireMessage
				if err := json.Unmarshal(raw, &msg); err != nil {
					continue
				}
				pair, ok := nativeToCanonical[msg.Symbol]
				if !ok {
					continue
				}
				switch msg.Channel {
				case "diff":
					sendDiff(ctx, diffs, pair, msg)
				case "trade":
					sendTrade(ctx, trades, pair, msg)
				}
			}
		}
	}()

	return diffs, trades, nil
}

func sendDiff(ctx context.Context, out chan<- types.BookDiffMsg, pair types.TradingPair, msg wireMessage) {
	diff := types.BookDiffMsg{
		Pair:          pair,
		Bids:          levelsToPriceLevels(msg.Bids),
		Asks:          levelsToPriceLevels(msg.Asks),
		UpdateID:      msg.UpdateID,
		FirstUpdateID: msg.PrevUpdateID,
	}
	select {
	case out <- diff:
	case <-ctx.Done():
	}
}

func sendTrade(ctx context.Context, out chan<- types.TradeMsg, pair types.TradingPair, msg wireMessage) {
	trade := types.TradeMsg{
		Pair:      pair,
		Price:     mustDecimal(msg.Price),
		Size:      mustDecimal(msg.Size),
		Side:      types.Side(msg.Side),
		Timestamp: msg.Ts,
	}
	select {
	case out <- trade:
	case <-ctx.Done():
	}
}
