// Package resilience assembles the client-side resilience layer of the chat
// client: a response cache, a request batcher, an offline sync queue and a
// connectivity monitor, sharing one storage backend and one HTTP client.
//
// Basic usage:
//
//	cfg, err := config.Load("resilience.yaml")
//	if err != nil {
//		return err
//	}
//	layer, err := resilience.New(cfg, resilience.WithRegisterer(prometheus.DefaultRegisterer))
//	if err != nil {
//		return err
//	}
//	defer layer.Close()
//	layer.Start(ctx)
//
//	body, err := layer.Batcher.AddRequest(ctx, "/api/models", batcher.RequestOptions{}, batcher.PriorityNormal)
//	_, err = layer.Queue.AddToSyncQueue(ctx, syncqueue.TypeMessage, syncqueue.ActionCreate, msg)
//
// The monitor's reachability drives the queue: when the API becomes
// reachable the queue drains after its settle delay.
package resilience
