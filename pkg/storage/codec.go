package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/cuemby/helmsman/pkg/spec"
)

// PutInstance persists a single instance under its own id, matching
// the Tracker's "write through before acknowledging" contract (spec
// section 4.2).
func PutInstance(repo Repository, inst *instance.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("storage: marshaling instance %s: %w", inst.ID, err)
	}
	return repo.Put(inst.ID, data)
}

// GetInstance loads a single instance by id.
func GetInstance(repo Repository, id pathid.Path) (*instance.Instance, bool, error) {
	data, ok, err := repo.Get(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	var inst instance.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, false, fmt.Errorf("storage: unmarshaling instance %s: %w", id, err)
	}
	return &inst, true, nil
}

// ListInstances loads every instance stored under runSpecID.
func ListInstances(repo Repository, runSpecID pathid.Path) ([]*instance.Instance, error) {
	ids, err := repo.List(runSpecID)
	if err != nil {
		return nil, fmt.Errorf("storage: listing instances under %s: %w", runSpecID, err)
	}
	out := make([]*instance.Instance, 0, len(ids))
	for _, id := range ids {
		if id == runSpecID {
			continue
		}
		inst, ok, err := GetInstance(repo, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

// DeleteInstance removes a persisted instance.
func DeleteInstance(repo Repository, id pathid.Path) error {
	return repo.Delete(id)
}

// PutRootGroup serializes and saves the declared root group tree.
func PutRootGroup(repo Repository, g *spec.Group) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("storage: marshaling root group: %w", err)
	}
	return repo.PutRoot(data)
}

// GetRootGroup loads the declared root group tree, or (nil, false, nil)
// if none has ever been saved.
func GetRootGroup(repo Repository) (*spec.Group, bool, error) {
	data, ok, err := repo.Root()
	if err != nil || !ok {
		return nil, ok, err
	}
	var g spec.Group
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, false, fmt.Errorf("storage: unmarshaling root group: %w", err)
	}
	return &g, true, nil
}
