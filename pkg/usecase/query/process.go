package query

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
	"github.com/m-mizutani/meshsim/pkg/utils/random"
)

// ProcessQuery stores the query, relays it to the assistant, asks the
// responder, stores the answer and relays it back. Every hop of the forward
// leg must succeed; failures on the return leg are logged and the hop is still
// recorded in the path.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query string) (*Result, error) {
	start := time.Now()
	logger := logging.From(ctx)

	queryCID, err := o.store.Put(ctx, query, map[string]any{"kind": "query"})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store query")
	}

	assistant, ok := random.Pick(o.rnd, o.topology.NodesByType(model.NodeTypeAssistant, true))
	if !ok {
		return nil, goerr.Wrap(model.ErrInvalidOperation, "no active assistant node")
	}

	relay, ok := o.pickRelay(assistant.ID)
	if !ok {
		return nil, goerr.Wrap(model.ErrInvalidOperation, "no active standard node can reach the assistant",
			goerr.V("assistant", assistant.ID))
	}

	path := []model.NodeID{model.ClientID, relay.ID}

	if _, err := o.sender.Send(ctx, relay.ID, assistant.ID, model.MessageTypeQuery, string(queryCID)); err != nil {
		return nil, goerr.Wrap(err, "failed to relay query to assistant",
			goerr.V("relay", relay.ID), goerr.V("assistant", assistant.ID))
	}
	path = append(path, assistant.ID)

	response, err := o.responder.Ask(ctx, query)
	if err != nil {
		logger.Warn("responder failed, using placeholder", "error", err)
		response = PlaceholderResponse
		if r, ok := o.responder.(Resetter); ok {
			r.Reset()
		}
	}

	responseCID, err := o.store.Put(ctx, response, map[string]any{
		"kind":     "response",
		"queryCid": string(queryCID),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store response", goerr.V("query_cid", queryCID))
	}
	if _, err := o.store.UpdateMetadata(ctx, queryCID, map[string]any{"responseCid": string(responseCID)}); err != nil {
		logger.Warn("failed to link response to query", "query_cid", queryCID, "error", err)
	}

	hops, err := o.relayBack(ctx, assistant.ID, relay.ID, responseCID)
	if err != nil {
		return nil, err
	}
	path = append(path, hops...)
	path = append(path, relay.ID, model.ClientID)

	result := &Result{
		Response:       response,
		ResponseCID:    responseCID,
		QueryCID:       queryCID,
		ProcessingPath: path,
		ProcessingTime: time.Since(start),
	}
	logger.Info("query processed",
		"query_cid", queryCID,
		"response_cid", responseCID,
		"path", path,
		"elapsed", result.ProcessingTime,
	)
	return result, nil
}

// pickRelay chooses a random active standard node that can reach the assistant
func (o *Orchestrator) pickRelay(assistant model.NodeID) (*model.Node, bool) {
	var candidates []*model.Node
	for _, n := range o.topology.NodesByType(model.NodeTypeStandard, true) {
		if o.topology.CanReach(n.ID, assistant) {
			candidates = append(candidates, n)
		}
	}
	return random.Pick(o.rnd, candidates)
}

// relayBack sends the response CID from the assistant to the relay through a
// content-store node when one can reach the relay, and directly otherwise. It
// returns the intermediate hops. Only context cancellation aborts it.
func (o *Orchestrator) relayBack(ctx context.Context, assistant, relay model.NodeID, responseCID model.CID) ([]model.NodeID, error) {
	var stores []*model.Node
	for _, n := range o.topology.NodesByType(model.NodeTypeContentStore, true) {
		if o.topology.CanReach(assistant, n.ID) && o.topology.CanReach(n.ID, relay) {
			stores = append(stores, n)
		}
	}

	type hop struct {
		from, to model.NodeID
		msgType  model.MessageType
	}
	var hops []hop
	var visited []model.NodeID

	if store, ok := random.Pick(o.rnd, stores); ok {
		hops = []hop{
			{assistant, store.ID, model.MessageTypeStorage},
			{store.ID, relay, model.MessageTypeResponse},
		}
		visited = append(visited, store.ID)
	} else {
		hops = []hop{{assistant, relay, model.MessageTypeResponse}}
	}

	for _, h := range hops {
		if _, err := o.sender.Send(ctx, h.from, h.to, h.msgType, string(responseCID)); err != nil {
			if ctx.Err() != nil {
				return nil, goerr.Wrap(err, "query processing cancelled")
			}
			logging.From(ctx).Warn("return hop failed", "from", h.from, "to", h.to, "type", h.msgType, "error", err)
		}
	}

	return visited, nil
}
