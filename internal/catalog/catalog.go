// Package catalog serves checkpoint definitions, bank questions, approved
// accommodation profiles and identity PINs from a static TOML file. It stands
// in for the curriculum, question-bank and accommodation services on offline
// nodes.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-checkpoint/internal/accommodation"
	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// File is the on-disk layout.
type File struct {
	Checkpoints []model.Definition      `toml:"checkpoints"`
	Questions   []model.Question        `toml:"questions"`
	Profiles    []accommodation.Profile `toml:"profiles"`
	Identities  []Identity              `toml:"identities"`
}

// Identity holds a bcrypt hash of the PIN a learner presents at begin.
type Identity struct {
	UserID  string `toml:"user_id"`
	PINHash string `toml:"pin_hash"`
}

type Catalog struct {
	mu        sync.RWMutex
	defs      map[string]model.Definition
	questions map[string]model.Question
	profiles  map[string]accommodation.Profile
	pins      map[string][]byte
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return New(f)
}

// Parse decodes a catalog from TOML text.
func Parse(data string) (*Catalog, error) {
	var f File
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return New(f)
}

func New(f File) (*Catalog, error) {
	c := &Catalog{}
	if err := c.replace(f); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload swaps in a new file. On error the previous contents stay.
func (c *Catalog) Reload(path string) error {
	n, err := Load(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.defs, c.questions, c.profiles, c.pins = n.defs, n.questions, n.profiles, n.pins
	c.mu.Unlock()
	return nil
}

func (c *Catalog) replace(f File) error {
	const op = "catalog.load"
	qs := make(map[string]model.Question, len(f.Questions))
	for _, q := range f.Questions {
		if q.ID == "" {
			return errs.New(errs.CodeInvalidInput, op, "question without id")
		}
		if _, dup := qs[q.ID]; dup {
			return errs.New(errs.CodeInvalidInput, op, "duplicate question %s", q.ID)
		}
		qs[q.ID] = q
	}
	defs := make(map[string]model.Definition, len(f.Checkpoints))
	for _, d := range f.Checkpoints {
		if d.ID == "" {
			return errs.New(errs.CodeInvalidInput, op, "checkpoint without id")
		}
		if _, dup := defs[d.ID]; dup {
			return errs.New(errs.CodeInvalidInput, op, "duplicate checkpoint %s", d.ID)
		}
		if d.TimeLimitSeconds != nil && *d.TimeLimitSeconds <= 0 {
			return errs.New(errs.CodeInvalidInput, op, "checkpoint %s: time limit must be positive", d.ID)
		}
		for _, ref := range d.Questions {
			if _, ok := qs[ref.QuestionID]; !ok {
				return errs.New(errs.CodeInvalidInput, op, "checkpoint %s references unknown question %s", d.ID, ref.QuestionID)
			}
		}
		defs[d.ID] = d
	}
	profiles := make(map[string]accommodation.Profile, len(f.Profiles))
	for _, p := range f.Profiles {
		profiles[p.UserID] = p
	}
	pins := make(map[string][]byte, len(f.Identities))
	for _, id := range f.Identities {
		if _, err := bcrypt.Cost([]byte(id.PINHash)); err != nil {
			return errs.Wrap(errs.CodeInvalidInput, op, fmt.Errorf("identity %s: %w", id.UserID, err))
		}
		pins[id.UserID] = []byte(id.PINHash)
	}
	c.mu.Lock()
	c.defs, c.questions, c.profiles, c.pins = defs, qs, profiles, pins
	c.mu.Unlock()
	return nil
}

func (c *Catalog) GetDefinition(_ context.Context, id string) (model.Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[id]
	if !ok {
		return model.Definition{}, errs.New(errs.CodeNotFound, "catalog.definition", "checkpoint %s not found", id).WithEntity("checkpoint", id)
	}
	return d, nil
}

// GetQuestions returns the known subset of ids.
func (c *Catalog) GetQuestions(_ context.Context, ids []string) (map[string]model.Question, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.Question, len(ids))
	for _, id := range ids {
		if q, ok := c.questions[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

func (c *Catalog) GetProfile(_ context.Context, userID string) (accommodation.Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[userID]
	if !ok {
		return accommodation.Profile{}, errs.New(errs.CodeNotFound, "catalog.profile", "no profile for %s", userID)
	}
	return p, nil
}

// Verify reports whether proof matches the learner's PIN. Learners without a
// registered PIN never verify.
func (c *Catalog) Verify(_ context.Context, userID, proof string) (bool, error) {
	c.mu.RLock()
	hash, ok := c.pins[userID]
	c.mu.RUnlock()
	if !ok || proof == "" {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword(hash, []byte(proof))
	switch err {
	case nil:
		return true, nil
	case bcrypt.ErrMismatchedHashAndPassword:
		return false, nil
	default:
		return false, fmt.Errorf("verify identity: %w", err)
	}
}

// Checkpoints lists definition ids in order.
func (c *Catalog) Checkpoints() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.defs))
	for id := range c.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
