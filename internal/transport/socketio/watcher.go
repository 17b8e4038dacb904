package socketio

import (
	"context"

	"github.com/rs/zerolog/log"
)

// StartConnectionWatcher broadcasts active-connection and list changes to
// all clients until ctx is done. Bursts are debounced.
func (s *Server) StartConnectionWatcher(ctx context.Context) {
	active := s.coordinator.ActiveDescriptors(ctx)
	lists := s.connections.Subscribe(ctx)

	go func() {
		log.Info().Msg("Connection watcher started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Connection watcher stopped")
				return
			case _, ok := <-active:
				if !ok {
					active = nil
					continue
				}
				s.debouncer.Trigger(TopicActive)
			case _, ok := <-lists:
				if !ok {
					lists = nil
					continue
				}
				s.debouncer.Trigger(TopicConnections)
			}
		}
	}()
}
