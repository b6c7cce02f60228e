// Package gdatastore keeps the save slot in the per-user data directory
// managed by gdata.
package gdatastore

import (
	"context"
	"fmt"

	"github.com/quasilyte/gdata/v2"

	"citygrid.ai/internal/persistence/snapshot"
	"citygrid.ai/internal/sim/city"
)

const (
	savesObject  = "saves"
	slotProperty = "slot"
)

type Store struct {
	m *gdata.Manager
}

var _ city.Storage = (*Store)(nil)

func Open(appName string) (*Store, error) {
	if appName == "" {
		return nil, fmt.Errorf("gdatastore: empty app name")
	}
	m, err := gdata.Open(gdata.Config{AppName: appName})
	if err != nil {
		return nil, fmt.Errorf("gdatastore: open %q: %w", appName, err)
	}
	return New(m), nil
}

func New(m *gdata.Manager) *Store { return &Store{m: m} }

func (s *Store) Save(ctx context.Context, snap snapshot.GameStateV1) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap.Header.Version = snapshot.Version
	b, err := snapshot.MarshalJSON(snap)
	if err != nil {
		return err
	}
	if err := s.m.SaveObjectProp(savesObject, slotProperty, b); err != nil {
		return fmt.Errorf("gdatastore: save: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (snapshot.GameStateV1, bool, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.GameStateV1{}, false, err
	}
	if !s.m.ObjectPropExists(savesObject, slotProperty) {
		return snapshot.GameStateV1{}, false, nil
	}
	b, err := s.m.LoadObjectProp(savesObject, slotProperty)
	if err != nil {
		return snapshot.GameStateV1{}, false, fmt.Errorf("gdatastore: load: %w", err)
	}
	snap, err := snapshot.UnmarshalJSON(b)
	if err != nil {
		return snapshot.GameStateV1{}, false, err
	}
	return snap, true, nil
}
