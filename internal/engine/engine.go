package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"skoll/internal/book"
	"skoll/internal/common"
	"skoll/internal/custody"
)

var (
	ErrUnknownMarket       = errors.New("unknown market")
	ErrPostOnlyWouldMatch  = errors.New("post-only order would match immediately")
	ErrFillOrKillNotFilled = errors.New("fill-or-kill order cannot be fully filled")
	ErrSelfTrade           = errors.New("self-trade not allowed")
)

// SelfTradePolicy decides what happens when an incoming order meets a
// resting order with the same owner.
type SelfTradePolicy int

const (
	// SelfTradeSkip leaves the resting order in place, unfilled, and
	// continues matching past it.
	SelfTradeSkip SelfTradePolicy = iota
	// SelfTradeReject refuses the whole incoming order before any fill
	// when a self-trade would be encountered.
	SelfTradeReject
)

// Reporter receives every execution event the engine produces.
type Reporter interface {
	ReportEvent(ev common.Event) error
}

// MultiReporter fans events out to several sinks. A failing sink is logged
// and does not stop delivery to the rest.
type MultiReporter []Reporter

func (m MultiReporter) ReportEvent(ev common.Event) error {
	for _, r := range m {
		if err := r.ReportEvent(ev); err != nil {
			log.Warn().Err(err).Str("event", ev.Type.String()).Msg("event sink failed")
		}
	}
	return nil
}

type Options struct {
	Markets   []string
	SelfTrade SelfTradePolicy
	Book      book.Options
}

// Engine hosts one order book per market and layers the order-type state
// machine over them. Each book is a serialized, non-reentrant state
// machine: every submit or cancel either completes fully or fails before
// the first mutation. Callers in a concurrent host must route all
// operations for one engine through a single goroutine.
type Engine struct {
	books     map[string]*book.OrderBook
	reporter  Reporter
	custodian custody.Emitter
	policy    SelfTradePolicy
}

func New(opts Options) *Engine {
	e := &Engine{
		books:  make(map[string]*book.OrderBook),
		policy: opts.SelfTrade,
	}
	for _, market := range opts.Markets {
		e.books[market] = book.New(opts.Book)
	}
	return e
}

func (e *Engine) SetReporter(r Reporter) {
	e.reporter = r
}

func (e *Engine) SetCustodian(c custody.Emitter) {
	e.custodian = c
}

// Book exposes the order book for a market, mainly for depth queries.
func (e *Engine) Book(market string) (*book.OrderBook, bool) {
	b, ok := e.books[market]
	return b, ok
}

// Submission is an incoming intent to trade.
type Submission struct {
	Market   string
	Owner    string
	Side     common.Side
	Type     common.OrderType
	Price    uint64
	Quantity uint64
	Tag      common.SettlementTag
}

type Status int

const (
	// StatusFilled means the full quantity executed on arrival.
	StatusFilled Status = iota
	// StatusResting means some or all of the quantity rests in the book.
	StatusResting
	// StatusDiscarded means the unmatched remainder was dropped.
	StatusDiscarded
)

// Report is what the submitting caller gets back.
type Report struct {
	OrderID   common.OrderID
	Status    Status
	Fills     []common.Fill
	Remaining uint64
}

// Submit runs one order through the matching state machine. Validation,
// the post-only pre-check, the fill-or-kill simulation and the
// self-trade-reject simulation all happen before the first mutation, so
// any error other than a failed rest of the remainder leaves the book
// exactly as it was.
func (e *Engine) Submit(sub Submission) (Report, error) {
	b, ok := e.books[sub.Market]
	if !ok {
		return Report{}, ErrUnknownMarket
	}
	if sub.Quantity == 0 {
		return Report{}, book.ErrInvalidAmount
	}
	unbounded := sub.Type == common.Market
	if !unbounded && sub.Price == 0 {
		return Report{}, book.ErrInvalidPrice
	}

	order := common.Order{
		Owner:         sub.Owner,
		Side:          sub.Side,
		Type:          sub.Type,
		Price:         sub.Price,
		Quantity:      sub.Quantity,
		TotalQuantity: sub.Quantity,
		Tag:           sub.Tag,
	}
	b.Stamp(&order)

	if sub.Type == common.PostOnly && e.wouldMatch(b, sub.Side, sub.Price) {
		e.reject(order, common.ReasonPostOnlyWouldMatch)
		return Report{OrderID: order.ID}, ErrPostOnlyWouldMatch
	}

	if sub.Type == common.FillOrKill {
		fillable, _ := b.SimulateMatch(sub.Owner, sub.Side, sub.Quantity, sub.Price, false)
		if fillable < sub.Quantity {
			e.reject(order, common.ReasonFillOrKillNotFilled)
			return Report{OrderID: order.ID}, ErrFillOrKillNotFilled
		}
	}

	if e.policy == SelfTradeReject && sub.Type != common.PostOnly {
		if _, selfSeen := b.SimulateMatch(sub.Owner, sub.Side, sub.Quantity, sub.Price, unbounded); selfSeen {
			e.reject(order, common.ReasonSelfTrade)
			return Report{OrderID: order.ID}, ErrSelfTrade
		}
	}

	fills := b.MatchOrder(&order, sub.Price, unbounded)
	for _, fill := range fills {
		e.emitFill(sub.Market, order, fill)
	}

	report := Report{
		OrderID:   order.ID,
		Fills:     fills,
		Remaining: order.Quantity,
	}
	if order.Quantity == 0 {
		report.Status = StatusFilled
		log.Info().
			Str("order", order.ID.String()).
			Str("market", sub.Market).
			Int("fills", len(fills)).
			Msg("order fully filled")
		return report, nil
	}

	switch sub.Type {
	case common.Limit, common.PostOnly:
		if err := b.InsertResting(&order); err != nil {
			e.emit(common.Event{
				Type:      common.EventDiscard,
				OrderID:   order.ID,
				Owner:     order.Owner,
				Side:      order.Side,
				Price:     order.Price,
				Quantity:  order.Quantity,
				Timestamp: order.Timestamp,
				Reason:    common.ReasonUnmatchedRemainder,
			})
			report.Status = StatusDiscarded
			return report, fmt.Errorf("resting remainder: %w", err)
		}
		report.Status = StatusResting
		e.emit(common.Event{
			Type:      common.EventRest,
			OrderID:   order.ID,
			Owner:     order.Owner,
			Side:      order.Side,
			Price:     order.Price,
			Quantity:  order.Quantity,
			Remaining: order.Quantity,
			Timestamp: order.Timestamp,
		})
		log.Info().
			Str("order", order.ID.String()).
			Str("market", sub.Market).
			Str("side", order.Side.String()).
			Uint64("price", order.Price).
			Uint64("quantity", order.Quantity).
			Msg("order resting")
	case common.Market, common.ImmediateOrCancel:
		report.Status = StatusDiscarded
		e.emit(common.Event{
			Type:      common.EventDiscard,
			OrderID:   order.ID,
			Owner:     order.Owner,
			Side:      order.Side,
			Price:     order.Price,
			Quantity:  order.Quantity,
			Timestamp: order.Timestamp,
			Reason:    common.ReasonUnmatchedRemainder,
		})
	}
	return report, nil
}

// Cancel removes a resting order on behalf of its owner. Escrowed
// quantity behind a cancelled ask is returned to the owner.
func (e *Engine) Cancel(market string, id common.OrderID, owner string) (common.Order, error) {
	b, ok := e.books[market]
	if !ok {
		return common.Order{}, ErrUnknownMarket
	}
	removed, err := b.Cancel(id, owner)
	if err != nil {
		return common.Order{}, err
	}
	e.emit(common.Event{
		Type:      common.EventCancel,
		OrderID:   removed.ID,
		Owner:     removed.Owner,
		Side:      removed.Side,
		Price:     removed.Price,
		Quantity:  removed.Quantity,
		Timestamp: time.Now().UnixNano(),
	})
	if removed.Side == common.Ask {
		e.emitIntent(custody.Intent{
			Kind:      custody.Return,
			Market:    market,
			OrderID:   removed.ID,
			Recipient: removed.Owner,
			Quantity:  removed.Quantity,
			Tag:       removed.Tag,
		})
	}
	log.Info().
		Str("order", removed.ID.String()).
		Str("market", market).
		Uint64("returned", removed.Quantity).
		Msg("order cancelled")
	return removed, nil
}

// wouldMatch reports whether a resting order at the given price would
// cross the opposing top of book.
func (e *Engine) wouldMatch(b *book.OrderBook, s common.Side, price uint64) bool {
	if s == common.Bid {
		ask, ok := b.BestAsk()
		return ok && ask <= price
	}
	bid, ok := b.BestBid()
	return ok && bid >= price
}

// emitFill publishes the fill event and, when base asset custody is in
// play, the matching release intent. The escrow behind an ask always
// moves toward the bid owner of the fill.
func (e *Engine) emitFill(market string, taker common.Order, fill common.Fill) {
	e.emit(common.Event{
		Type:           common.EventFill,
		OrderID:        taker.ID,
		Owner:          taker.Owner,
		Side:           taker.Side,
		Price:          fill.Price,
		Quantity:       fill.Quantity,
		Remaining:      taker.Quantity,
		MakerID:        fill.MakerID,
		MakerOwner:     fill.MakerOwner,
		MakerRemaining: fill.MakerRemaining,
		Timestamp:      taker.Timestamp,
	})
	intent := custody.Intent{
		Kind:     custody.Release,
		Market:   market,
		Quantity: fill.Quantity,
		Tag:      taker.Tag,
	}
	if taker.Side == common.Ask {
		// Taker's escrow goes to the resting bid owner.
		intent.OrderID = taker.ID
		intent.Recipient = fill.MakerOwner
	} else {
		// Maker's escrow goes to the taking bid owner.
		intent.OrderID = fill.MakerID
		intent.Recipient = taker.Owner
	}
	e.emitIntent(intent)
}

func (e *Engine) reject(order common.Order, reason common.Reason) {
	e.emit(common.Event{
		Type:      common.EventReject,
		OrderID:   order.ID,
		Owner:     order.Owner,
		Side:      order.Side,
		Price:     order.Price,
		Quantity:  order.Quantity,
		Timestamp: order.Timestamp,
		Reason:    reason,
	})
	log.Info().
		Str("order", order.ID.String()).
		Str("reason", reason.String()).
		Msg("order rejected")
}

func (e *Engine) emit(ev common.Event) {
	if e.reporter == nil {
		return
	}
	if err := e.reporter.ReportEvent(ev); err != nil {
		log.Warn().Err(err).Str("event", ev.Type.String()).Msg("failed reporting event")
	}
}

func (e *Engine) emitIntent(intent custody.Intent) {
	if e.custodian == nil {
		return
	}
	if err := e.custodian.Emit(intent); err != nil {
		log.Warn().Err(err).Str("intent", intent.Kind.String()).Msg("failed emitting custody intent")
	}
}
