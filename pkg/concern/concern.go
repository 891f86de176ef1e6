package concern

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/rs/zerolog"
)

// Issue is the outcome of one check: the reason shown to users and the
// entities the issue blocks in addition to its owner
type Issue struct {
	Reason  types.Reason
	Related []types.ObjectRef
}

// Check computes one kind of issue for an owner. It returns nil when the
// owner has no such issue.
type Check func(tx *storage.Tx, owner *types.Object) (*Issue, error)

type check struct {
	cause types.ConcernCause
	kinds []types.ObjectType
	fn    Check
}

// Engine maintains issues and locks. Concerns are rows of their own; the
// link to affected entities is the Related set of each row.
type Engine struct {
	checks []check
	logger zerolog.Logger
}

// NewEngine creates a concern engine with the config, service and import
// checks registered
func NewEngine() *Engine {
	e := &Engine{logger: log.WithComponent("concern")}
	e.Register(types.CauseConfig, types.ObjectTypes, e.configIssue)
	e.Register(types.CauseService, []types.ObjectType{types.ObjectCluster}, e.serviceIssue)
	e.Register(types.CauseImport, []types.ObjectType{types.ObjectCluster, types.ObjectService}, e.importIssue)
	return e
}

// Register adds a check evaluated by Refresh for owners of the given kinds
func (e *Engine) Register(cause types.ConcernCause, kinds []types.ObjectType, fn Check) {
	e.checks = append(e.checks, check{cause: cause, kinds: kinds, fn: fn})
}

// Of returns every concern whose affected set contains ref
func Of(tx *storage.Tx, ref types.ObjectRef) ([]*types.ConcernItem, error) {
	return storage.Concerns.List(tx, func(c *types.ConcernItem) bool { return c.Affects(ref) })
}

// Owned returns the concerns owned by ref
func Owned(tx *storage.Tx, ref types.ObjectRef) ([]*types.ConcernItem, error) {
	return storage.Concerns.List(tx, func(c *types.ConcernItem) bool { return c.Owner == ref })
}

// Refresh recomputes every registered issue owned by the given entities
func (e *Engine) Refresh(tx *storage.Tx, refs ...types.ObjectRef) error {
	for _, ref := range refs {
		obj, err := storage.GetObject(tx, ref)
		if err != nil {
			return err
		}
		for _, c := range e.checks {
			if !slices.Contains(c.kinds, obj.Type) {
				continue
			}
			issue, err := c.fn(tx, obj)
			if err != nil {
				return fmt.Errorf("%s check of %s: %w", c.cause, obj, err)
			}
			if err := e.sync(tx, obj, c.cause, issue); err != nil {
				return err
			}
		}
	}
	return nil
}

// RefreshTree recomputes the issues of a cluster and of everything in it
func (e *Engine) RefreshTree(tx *storage.Tx, clusterID int64) error {
	refs := []types.ObjectRef{types.Ref(types.ObjectCluster, clusterID)}
	services, err := storage.Services(tx, clusterID)
	if err != nil {
		return err
	}
	for _, s := range services {
		refs = append(refs, s.Ref())
	}
	components, err := storage.ClusterComponents(tx, clusterID)
	if err != nil {
		return err
	}
	for _, c := range components {
		refs = append(refs, c.Ref())
	}
	hosts, err := storage.ClusterHosts(tx, clusterID)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		refs = append(refs, h.Ref())
	}
	return e.Refresh(tx, refs...)
}

// sync makes the stored issue of (owner, cause) match issue
func (e *Engine) sync(tx *storage.Tx, owner *types.Object, cause types.ConcernCause, issue *Issue) error {
	existing, err := storage.Concerns.List(tx, func(c *types.ConcernItem) bool {
		return c.Owner == owner.Ref() && c.Cause == cause && c.Type == types.ConcernIssue
	})
	if err != nil {
		return err
	}
	if issue == nil {
		for _, c := range existing {
			if err := e.drop(tx, c); err != nil {
				return err
			}
		}
		return nil
	}

	related := uniqueRefs(append([]types.ObjectRef{owner.Ref()}, issue.Related...))
	if len(existing) == 0 {
		return e.raise(tx, &types.ConcernItem{
			Type:     types.ConcernIssue,
			Name:     fmt.Sprintf("%s_issue", cause),
			Reason:   issue.Reason,
			Blocking: true,
			Owner:    owner.Ref(),
			Cause:    cause,
			Related:  related,
		})
	}

	c := existing[0]
	for _, extra := range existing[1:] {
		if err := e.drop(tx, extra); err != nil {
			return err
		}
	}
	c.Reason = issue.Reason
	c.Related = related
	return storage.Concerns.Put(tx, c)
}

func (e *Engine) raise(tx *storage.Tx, c *types.ConcernItem) error {
	if err := storage.Concerns.Insert(tx, c); err != nil {
		return err
	}
	e.logger.Debug().
		Int64("concern_id", c.ID).
		Str("owner", c.Owner.String()).
		Str("cause", string(c.Cause)).
		Msg("Concern raised")
	tx.Emit(concernEvent(c, types.EventAdd))
	return nil
}

func (e *Engine) drop(tx *storage.Tx, c *types.ConcernItem) error {
	if err := storage.Concerns.Delete(tx, c.ID); err != nil {
		return err
	}
	e.logger.Debug().
		Int64("concern_id", c.ID).
		Str("owner", c.Owner.String()).
		Str("cause", string(c.Cause)).
		Msg("Concern removed")
	tx.Emit(concernEvent(c, types.EventRemove))
	return nil
}

// Forget removes a deleted entity from every concern: concerns it owns are
// dropped, other affected sets lose it
func (e *Engine) Forget(tx *storage.Tx, ref types.ObjectRef) error {
	all, err := Of(tx, ref)
	if err != nil {
		return err
	}
	owned, err := Owned(tx, ref)
	if err != nil {
		return err
	}
	for _, c := range owned {
		if err := e.drop(tx, c); err != nil {
			return err
		}
	}
	for _, c := range all {
		if c.Owner == ref {
			continue
		}
		c.Related = slices.DeleteFunc(c.Related, func(r types.ObjectRef) bool { return r == ref })
		if err := storage.Concerns.Put(tx, c); err != nil {
			return err
		}
	}
	return nil
}

func concernEvent(c *types.ConcernItem, kind types.EventType) *types.Event {
	return &types.Event{
		Event: types.EventConcern,
		Object: types.EventObject{
			Type: string(c.Owner.Type),
			ID:   c.Owner.ID,
			Details: types.EventDetails{
				Type:  string(kind),
				Value: string(c.Type),
				ID:    strconv.FormatInt(c.ID, 10),
			},
		},
	}
}

// Render fills the ${name} placeholders of a reason message
func Render(r types.Reason) string {
	if len(r.Placeholder) == 0 {
		return r.Message
	}
	pairs := make([]string, 0, 2*len(r.Placeholder))
	for k, p := range r.Placeholder {
		pairs = append(pairs, "${"+k+"}", p.Name)
	}
	return strings.NewReplacer(pairs...).Replace(r.Message)
}

func placeholder(obj *types.Object) types.Placeholder {
	return types.Placeholder{Type: obj.Type, Name: obj.Name, IDs: map[types.ObjectType]int64{obj.Type: obj.ID}}
}

func uniqueRefs(refs []types.ObjectRef) []types.ObjectRef {
	out := make([]types.ObjectRef, 0, len(refs))
	for _, r := range refs {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}
