// Package engine runs a planned Traversal as a concurrent per-collection
// task DAG: it waits for upstream completion, gathers input values across
// incoming edges, invokes a Connector to retrieve or mask rows, records
// execution state via a LogAppender, retries on failure with bounded
// backoff, and publishes results downstream.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medisync/privacygraph/internal/privacygraph/connector"
	"github.com/medisync/privacygraph/internal/privacygraph/fieldpath"
	"github.com/medisync/privacygraph/internal/privacygraph/model"
	"github.com/medisync/privacygraph/internal/privacygraph/query"
)

// LogAppender is the subset of the Store contract the engine needs:
// append-only, safe under concurrent writers.
type LogAppender interface {
	AppendExecutionLog(ctx context.Context, entry model.ExecutionLog) error
}

// NodeEventPublisher is notified as each node reaches a terminal state.
// Implementations (e.g. a NATS publisher) must not block the engine for
// long; callers wanting fire-and-forget semantics should do their own
// buffering.
type NodeEventPublisher interface {
	PublishNodeCompleted(ctx context.Context, requestID uuid.UUID, address model.CollectionAddress, status model.ExecutionStatus)
}

// InputCache is the subset of identitycache.Cache the engine uses. It
// persists a request's seed identities for operational visibility and
// spills a node's deduplicated input-value list to Redis once it grows
// past Config.InputSpillThreshold, instead of holding an unbounded list
// resident in the task goroutine for the life of the request. Nil
// disables both behaviors; the engine keeps gathering input in memory
// either way, since the current query still needs the values it just
// built.
type InputCache interface {
	SetSeeds(ctx context.Context, requestID string, seeds map[string]string) error
	SpillInputValues(ctx context.Context, requestID, nodeKey, field string, values []any) error
}

// defaultInputSpillThreshold is used when Config.InputSpillThreshold is
// unset.
const defaultInputSpillThreshold = 5000

// Config carries the engine's tunable parameters, read once per request
// rather than re-read per retry attempt.
type Config struct {
	TaskRetryCount      int
	TaskRetryDelay      time.Duration
	TaskRetryBackoff    float64
	MaskingStrict       bool
	ConnectorTimeout    time.Duration
	InputSpillThreshold int
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		TaskRetryCount:      2,
		TaskRetryDelay:      time.Second,
		TaskRetryBackoff:    2,
		MaskingStrict:       false,
		ConnectorTimeout:    30 * time.Second,
		InputSpillThreshold: defaultInputSpillThreshold,
	}
}

// Engine executes a Traversal against a set of per-dataset connectors and
// query configs.
type Engine struct {
	Connectors   map[string]connector.Connector // keyed by dataset name
	QueryConfigs map[string]query.Config        // keyed by dataset name
	Logs         LogAppender
	Events       NodeEventPublisher
	Config       Config
	Cache        InputCache // optional; nil disables seed persistence and spillover
	logger       *slog.Logger
}

// New builds an Engine. logger may be nil, in which case slog.Default()
// is used.
func New(connectors map[string]connector.Connector, queryConfigs map[string]query.Config, logs LogAppender, events NodeEventPublisher, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Connectors:   connectors,
		QueryConfigs: queryConfigs,
		Logs:         logs,
		Events:       events,
		Config:       cfg,
		logger:       logger.With(slog.String("component", "privacygraph_engine")),
	}
}

// nodeState is the shared, mutex-guarded bookkeeping the engine uses to
// let downstream tasks observe upstream output once it is ready. Policy,
// DatasetGraph, and Traversal are immutable after construction so no
// locking is needed for those; nodeState is the one thing mutated during
// execution.
type nodeState struct {
	mu       sync.Mutex
	rows     map[string][]model.Row // keyed by CollectionAddress.Key()
	done     map[string]chan struct{}
	erred    map[string]bool
}

func newNodeState(order []*model.TraversalNode) *nodeState {
	s := &nodeState{
		rows:  make(map[string][]model.Row, len(order)),
		done:  make(map[string]chan struct{}, len(order)),
		erred: make(map[string]bool, len(order)),
	}
	for _, n := range order {
		s.done[n.Address.Key()] = make(chan struct{})
	}
	return s
}

func (s *nodeState) setRows(key string, rows []model.Row, erred bool) {
	s.mu.Lock()
	s.rows[key] = rows
	s.erred[key] = erred
	s.mu.Unlock()
}

func (s *nodeState) getRows(key string) ([]model.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, erred := s.rows[key], s.erred[key]
	return rows, erred
}

// RunAccess executes the traversal's access pass, returning the retrieved
// rows keyed by CollectionAddress.Key().
func (e *Engine) RunAccess(ctx context.Context, t *model.Traversal, policy model.Policy, request *model.PrivacyRequest) map[string][]model.Row {
	state := newNodeState(t.Order)

	if e.Cache != nil {
		if err := e.Cache.SetSeeds(ctx, request.ID.String(), t.Seeds); err != nil {
			e.logger.Warn("failed to cache seed identities", slog.String("request_id", request.ID.String()), slog.Any("error", err))
		}
	}

	rootKey := model.CollectionAddress{Dataset: model.RootCollection, Collection: model.RootCollection}.Key()
	state.setRows(rootKey, []model.Row{seedRow(t.Seeds)}, false)
	close(state.done[rootKey])

	var wg sync.WaitGroup
	for _, n := range t.Order {
		if n.IsRoot() {
			continue
		}
		node := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(state.done[node.Address.Key()])
			e.runNodeAccess(ctx, node, state, policy, request)
		}()
	}
	wg.Wait()

	out := make(map[string][]model.Row)
	for _, n := range t.Order {
		if n.IsRoot() {
			continue
		}
		if rows, _ := state.getRows(n.Address.Key()); len(rows) > 0 {
			out[n.Address.Key()] = rows
		}
	}
	return out
}

// RunErasure executes the traversal's erasure pass against the rows
// captured by a prior access pass, returning the masked-row count per
// collection. Collections with no access rows produce 0 masked; erasure
// never runs for a collection that was not part of the access result.
func (e *Engine) RunErasure(ctx context.Context, t *model.Traversal, policy model.Policy, request *model.PrivacyRequest, accessData map[string][]model.Row) map[string]int {
	out := make(map[string]int)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, n := range t.Order {
		if n.IsRoot() || n.Collection == nil {
			continue
		}
		node := n
		rows := accessData[node.Address.Key()]
		wg.Add(1)
		go func() {
			defer wg.Done()
			count := e.runNodeErasure(ctx, node, policy, request, rows)
			mu.Lock()
			out[node.Address.Key()] = count
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func (e *Engine) runNodeAccess(ctx context.Context, node *model.TraversalNode, state *nodeState, policy model.Policy, request *model.PrivacyRequest) {
	if !e.awaitUpstream(ctx, node, state, request) {
		return
	}

	e.appendLog(ctx, request, node, model.ActionAccess, model.StatusInProcessing, "")

	inputData := e.gatherInputData(ctx, node, state, request)

	conn, qc, ok := e.resolveDataset(node.Address.Dataset)
	if !ok {
		msg := fmt.Sprintf("no connector configured for dataset %q", node.Address.Dataset)
		e.appendLog(ctx, request, node, model.ActionAccess, model.StatusError, msg)
		state.setRows(node.Address.Key(), nil, true)
		return
	}

	stmt, err := qc.GenerateQuery(node, inputData, policy)
	if err != nil {
		e.appendLog(ctx, request, node, model.ActionAccess, model.StatusError, err.Error())
		state.setRows(node.Address.Key(), nil, true)
		return
	}
	if stmt == nil {
		// Every input field was empty: nothing to retrieve, not a
		// failure.
		e.appendLog(ctx, request, node, model.ActionAccess, model.StatusComplete, "no non-empty input values, skipped")
		state.setRows(node.Address.Key(), nil, false)
		e.publishNodeEvent(ctx, request, node, model.StatusComplete)
		return
	}

	rows, retrying, err := e.retrieveWithRetry(ctx, conn, node, stmt, request)
	_ = retrying
	if err != nil {
		if _, cancelled := err.(*Cancelled); cancelled {
			e.appendLog(ctx, request, node, model.ActionAccess, model.StatusError, err.Error())
		} else {
			e.appendLog(ctx, request, node, model.ActionAccess, model.StatusError, err.Error())
		}
		state.setRows(node.Address.Key(), nil, true)
		e.publishNodeEvent(ctx, request, node, model.StatusError)
		return
	}

	state.setRows(node.Address.Key(), rows, false)
	e.appendLog(ctx, request, node, model.ActionAccess, model.StatusComplete, fmt.Sprintf("retrieved %d row(s)", len(rows)))
	e.publishNodeEvent(ctx, request, node, model.StatusComplete)
}

func (e *Engine) runNodeErasure(ctx context.Context, node *model.TraversalNode, policy model.Policy, request *model.PrivacyRequest, rows []model.Row) int {
	e.appendLog(ctx, request, node, model.ActionErasure, model.StatusInProcessing, "")

	if !hasPrimaryKey(node.Collection) {
		e.appendLog(ctx, request, node, model.ActionErasure, model.StatusComplete, NoPrimaryKeyMessage)
		return 0
	}

	if len(rows) == 0 {
		e.appendLog(ctx, request, node, model.ActionErasure, model.StatusComplete, "no access rows to erase")
		return 0
	}

	conn, qc, ok := e.resolveDataset(node.Address.Dataset)
	if !ok {
		msg := fmt.Sprintf("no connector configured for dataset %q", node.Address.Dataset)
		e.appendLog(ctx, request, node, model.ActionErasure, model.StatusError, msg)
		return 0
	}

	total := 0
	for _, row := range rows {
		stmt, err := qc.GenerateUpdateStmt(node, row, policy, e.Config.MaskingStrict)
		if err != nil {
			e.appendLog(ctx, request, node, model.ActionErasure, model.StatusError, err.Error())
			continue
		}
		if stmt == nil {
			continue
		}
		count, _, err := e.maskWithRetry(ctx, conn, node, stmt, request)
		if err != nil {
			e.appendLog(ctx, request, node, model.ActionErasure, model.StatusError, err.Error())
			continue
		}
		total += count
	}

	e.appendLog(ctx, request, node, model.ActionErasure, model.StatusComplete, fmt.Sprintf("masked %d row(s)", total))
	e.publishNodeEvent(ctx, request, node, model.StatusComplete)
	return total
}

// awaitUpstream blocks until every TraversalNode this node has an
// incoming edge from has reached a terminal state, or the context is
// cancelled. It returns false if the wait was aborted by cancellation.
func (e *Engine) awaitUpstream(ctx context.Context, node *model.TraversalNode, state *nodeState, request *model.PrivacyRequest) bool {
	seen := map[string]bool{}
	for _, edge := range node.IncomingEdges {
		src := edge.Source.CollectionAddress()
		if src.IsRoot() || seen[src.Key()] {
			continue
		}
		seen[src.Key()] = true
		ch, ok := state.done[src.Key()]
		if !ok {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			e.appendLog(ctx, request, node, model.ActionAccess, model.StatusError, (&Cancelled{NodeKey: node.Address.Key()}).Error())
			state.setRows(node.Address.Key(), nil, true)
			return false
		}
	}
	return true
}

// gatherInputData builds, for each incoming edge, the deduplicated
// (insertion-order-preserved) list of source-field values observed in the
// upstream task's output rows, keyed by the destination field's dotted
// path. Fields whose list grows past Config.InputSpillThreshold are
// additionally spilled to e.Cache, if one is configured.
func (e *Engine) gatherInputData(ctx context.Context, node *model.TraversalNode, state *nodeState, request *model.PrivacyRequest) map[string][]any {
	out := make(map[string][]any)
	seenPerField := make(map[string]map[string]bool)

	for _, edge := range node.IncomingEdges {
		destKey := edge.Destination.Path.String()
		if seenPerField[destKey] == nil {
			seenPerField[destKey] = make(map[string]bool)
		}

		src := edge.Source.CollectionAddress()
		if src.IsRoot() {
			seedKey, _ := edge.Source.Path.Head()
			// seed values are threaded through node state under the
			// ROOT key as a single synthetic row.
			rootRows, _ := state.getRows(model.CollectionAddress{Dataset: model.RootCollection, Collection: model.RootCollection}.Key())
			for _, row := range rootRows {
				if v, ok := row[seedKey]; ok {
					appendDistinct(out, seenPerField[destKey], destKey, v)
				}
			}
			continue
		}

		rows, erred := state.getRows(src.Key())
		if erred {
			continue
		}
		for _, row := range rows {
			v, ok := extractValue(row, edge.Source.Path)
			if !ok || v == nil {
				continue
			}
			appendDistinct(out, seenPerField[destKey], destKey, v)
		}
	}

	if e.Cache != nil {
		threshold := e.Config.InputSpillThreshold
		if threshold <= 0 {
			threshold = defaultInputSpillThreshold
		}
		for field, values := range out {
			if len(values) <= threshold {
				continue
			}
			if err := e.Cache.SpillInputValues(ctx, request.ID.String(), node.Address.Key(), field, values); err != nil {
				e.logger.Warn("failed to spill large input value list",
					slog.String("collection", node.Address.Key()), slog.String("field", field),
					slog.Int("count", len(values)), slog.Any("error", err))
				continue
			}
			e.logger.Info("spilled large input value list to cache",
				slog.String("collection", node.Address.Key()), slog.String("field", field), slog.Int("count", len(values)))
		}
	}

	return out
}

func appendDistinct(out map[string][]any, seen map[string]bool, key string, v any) {
	sk := fmt.Sprintf("%v", v)
	if seen[sk] {
		return
	}
	seen[sk] = true
	out[key] = append(out[key], v)
}

func extractValue(row model.Row, path fieldpath.Path) (any, bool) {
	head, ok := path.Head()
	if !ok {
		return nil, false
	}
	v, present := row[head]
	if !present {
		return nil, false
	}
	tail := path.Tail()
	if len(tail) == 0 {
		return v, true
	}
	nested, ok := v.(model.Row)
	if !ok {
		return nil, false
	}
	return extractValue(nested, tail)
}

func seedRow(seeds map[string]string) model.Row {
	row := make(model.Row, len(seeds))
	for k, v := range seeds {
		row[k] = v
	}
	return row
}

func hasPrimaryKey(c *model.Collection) bool {
	if c == nil {
		return false
	}
	for _, f := range c.Fields {
		if f.PrimaryKey {
			return true
		}
	}
	return false
}

func (e *Engine) resolveDataset(dataset string) (connector.Connector, query.Config, bool) {
	conn, ok := e.Connectors[dataset]
	if !ok {
		return nil, nil, false
	}
	qc, ok := e.QueryConfigs[dataset]
	if !ok {
		return nil, nil, false
	}
	return conn, qc, true
}

// retrieveWithRetry calls conn.RetrieveData, retrying up to
// Config.TaskRetryCount times with exponential backoff
// (delay * backoff^attempt) on failure, logging a `retrying` entry before
// each retry.
func (e *Engine) retrieveWithRetry(ctx context.Context, conn connector.Connector, node *model.TraversalNode, stmt *query.Statement, request *model.PrivacyRequest) ([]model.Row, int, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.connectorTimeout())
		rows, err := conn.RetrieveData(callCtx, node, stmt)
		cancel()
		if err == nil {
			return rows, attempt, nil
		}
		lastErr = err

		if attempt >= e.Config.TaskRetryCount {
			return nil, attempt, lastErr
		}
		if ctx.Err() != nil {
			return nil, attempt, &Cancelled{NodeKey: node.Address.Key()}
		}

		e.appendLog(ctx, request, node, model.ActionAccess, model.StatusRetrying, fmt.Sprintf("attempt %d failed: %v", attempt+1, err))

		if !e.sleepBackoff(ctx, attempt) {
			return nil, attempt, &Cancelled{NodeKey: node.Address.Key()}
		}
	}
}

func (e *Engine) maskWithRetry(ctx context.Context, conn connector.Connector, node *model.TraversalNode, stmt *query.Statement, request *model.PrivacyRequest) (int, int, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.connectorTimeout())
		count, err := conn.MaskData(callCtx, node, stmt)
		cancel()
		if err == nil {
			return count, attempt, nil
		}
		lastErr = err

		if attempt >= e.Config.TaskRetryCount {
			return 0, attempt, lastErr
		}
		if ctx.Err() != nil {
			return 0, attempt, &Cancelled{NodeKey: node.Address.Key()}
		}

		e.appendLog(ctx, request, node, model.ActionErasure, model.StatusRetrying, fmt.Sprintf("attempt %d failed: %v", attempt+1, err))

		if !e.sleepBackoff(ctx, attempt) {
			return 0, attempt, &Cancelled{NodeKey: node.Address.Key()}
		}
	}
}

func (e *Engine) sleepBackoff(ctx context.Context, attempt int) bool {
	delay := time.Duration(float64(e.Config.TaskRetryDelay) * math.Pow(e.Config.TaskRetryBackoff, float64(attempt)))
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) connectorTimeout() time.Duration {
	if e.Config.ConnectorTimeout <= 0 {
		return 30 * time.Second
	}
	return e.Config.ConnectorTimeout
}

func (e *Engine) appendLog(ctx context.Context, request *model.PrivacyRequest, node *model.TraversalNode, action model.Action, status model.ExecutionStatus, message string) {
	entry := model.ExecutionLog{
		ID:               uuid.New(),
		PrivacyRequestID: request.ID,
		Dataset:          node.Address.Dataset,
		Collection:       node.Address.Collection,
		Action:           action,
		Status:           status,
		Message:          message,
		Timestamp:        time.Now(),
	}
	request.AddLog(entry)

	if e.Logs != nil {
		if err := e.Logs.AppendExecutionLog(ctx, entry); err != nil {
			e.logger.Error("failed to append execution log", slog.String("error", err.Error()))
		}
	}

	e.logger.Info("node state transition",
		slog.String("dataset", node.Address.Dataset),
		slog.String("collection", node.Address.Collection),
		slog.String("action", string(action)),
		slog.String("status", string(status)),
	)
}

func (e *Engine) publishNodeEvent(ctx context.Context, request *model.PrivacyRequest, node *model.TraversalNode, status model.ExecutionStatus) {
	if e.Events == nil {
		return
	}
	e.Events.PublishNodeCompleted(ctx, request.ID, node.Address, status)
}
