package ir

import (
	"errors"
	"fmt"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionFamily(t *testing.T) {
	tests := []struct {
		cond Condition
		want Family
	}{
		{Condition{Field: FieldDescription}, FamilyText},
		{Condition{Field: FieldAmount}, FamilyNumeric},
		{Condition{Field: FieldDate}, FamilyDate},
		{Condition{Field: FieldCategory}, FamilyReference},
		{Condition{Field: FieldAccount}, FamilyReference},
		{Condition{Field: FieldPayee, TextValue: "Amazon"}, FamilyText},
		{Condition{Field: FieldPayee, Refs: []string{"p1"}}, FamilyReference},
		{Condition{Field: FieldNotes}, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.cond.Field, tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Family())
		})
	}
}

func TestFamilySupports(t *testing.T) {
	assert.True(t, FamilyText.Supports(OpMatches))
	assert.False(t, FamilyNumeric.Supports(OpContains))
	assert.True(t, FamilyDate.Supports(OpBefore))
	assert.False(t, FamilyReference.Supports(OpRange))
	assert.False(t, Family("bogus").Supports(OpIs))

	ops := FamilyNumeric.Operators()
	ops[0] = "mutated"
	assert.Equal(t, OpEquals, FamilyNumeric.Operators()[0], "Operators must return a copy")
}

func TestActionTypeTargets(t *testing.T) {
	assert.Equal(t, FieldPayee, ActionSetBeneficiary.Target())
	assert.Equal(t, FieldNotes, ActionPrependNotes.Target())
	assert.Equal(t, FieldTags, ActionAddTag.Target())
	assert.Equal(t, RefTag, ActionAddTag.RefKind())
	assert.Equal(t, RefKind(""), ActionSetNotes.RefKind())
	assert.False(t, ActionType("explode").Valid())
}

func TestFieldValid(t *testing.T) {
	assert.True(t, FieldCleared.Valid())
	assert.True(t, FieldPayee.Valid())
	assert.False(t, Field("merchant").Valid())
}

func TestStageOrder(t *testing.T) {
	assert.Equal(t, 0, StagePre.Index())
	assert.Equal(t, 2, StagePost.Index())
	assert.Equal(t, -1, Stage("late").Index())
	assert.False(t, Stage("").Valid())
}

func TestRuleCloneIsDeep(t *testing.T) {
	amount := decimal.NewFromInt(10)
	day := civil.Date{Year: 2024, Month: 1, Day: 15}
	r := Rule{
		ID: "r1",
		Conditions: []Condition{
			{Field: FieldAmount, Operator: OpGreater, NumericValue: &amount},
			{Field: FieldCategory, Operator: OpOneOf, Refs: []string{"c1"}},
		},
		Actions: []Action{{Type: ActionSetDate, DateValue: &day, Ref: &Ref{ID: "x"}}},
	}

	c := r.Clone()
	*c.Conditions[0].NumericValue = decimal.NewFromInt(99)
	c.Conditions[1].Refs[0] = "c2"
	c.Actions[0].Ref.ID = "y"
	c.Actions[0].DateValue.Day = 20

	assert.True(t, r.Conditions[0].NumericValue.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "c1", r.Conditions[1].Refs[0])
	assert.Equal(t, "x", r.Actions[0].Ref.ID)
	assert.Equal(t, 15, r.Actions[0].DateValue.Day)
}

func TestTransactionCloneDoesNotShareTags(t *testing.T) {
	tx := Transaction{ID: "t1", Tags: []string{"a"}}
	c := tx.Clone()
	c.Tags[0] = "b"
	assert.Equal(t, "a", tx.Tags[0])
	assert.False(t, tx.Equal(c))
}

func TestTransactionIsEmpty(t *testing.T) {
	tx := Transaction{
		Description: "   ",
		Amount:      decimal.Zero,
		Payee:       Ref{Name: "Shop"},
	}
	assert.True(t, tx.IsEmpty(FieldDescription), "whitespace text is empty")
	assert.True(t, tx.IsEmpty(FieldAmount))
	assert.True(t, tx.IsEmpty(FieldDate))
	assert.True(t, tx.IsEmpty(FieldCategory))
	assert.False(t, tx.IsEmpty(FieldPayee), "a named payee without id is set")
	assert.True(t, tx.IsEmpty(FieldTags))
}

func TestRefString(t *testing.T) {
	assert.Equal(t, "c1", Ref{ID: "c1"}.String())
	assert.Equal(t, "Amazon", Ref{ID: "Amazon", Name: "Amazon"}.String())
	assert.Equal(t, "Groceries (c1)", Ref{ID: "c1", Name: "Groceries"}.String())
}

func TestRuleErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewConcurrencyError("ws", 3, 4))
	assert.True(t, IsConcurrencyError(err))
	assert.False(t, IsValidationError(err))
	assert.Equal(t, CodeStaleVersion, CodeOf(err))

	cause := errors.New("disk full")
	perr := NewPersistenceError("r1", CodeLogWrite, cause)
	assert.ErrorIs(t, perr, cause)
	assert.Contains(t, perr.Error(), "rule=r1")
	assert.Equal(t, ErrorKind(""), KindOf(cause))
}

func TestSnapshotOrdersByStageThenPriorityThenID(t *testing.T) {
	rules := []Rule{
		{ID: "b", Stage: StageDefault, Priority: 10, IsActive: true, WorkspaceID: "ws"},
		{ID: "a", Stage: StageDefault, Priority: 10, IsActive: true, WorkspaceID: "ws"},
		{ID: "p", Stage: StagePost, Priority: 1, IsActive: true, WorkspaceID: "ws"},
		{ID: "z", Stage: StagePre, Priority: 500, IsActive: true, WorkspaceID: "ws"},
		{ID: "off", Stage: StagePre, Priority: 1, IsActive: false, WorkspaceID: "ws"},
		{ID: "other", Stage: StagePre, Priority: 1, IsActive: true, WorkspaceID: "ws2"},
	}

	snap := NewSnapshot("ws", 7, rules)
	require.Equal(t, 4, snap.Len())

	var ids []string
	for _, r := range snap.All() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"z", "a", "b", "p"}, ids)
	assert.Equal(t, int64(7), snap.Version())
	assert.Len(t, snap.Rules(StageDefault), 2)
}

func TestSnapshotHashIgnoresInputOrder(t *testing.T) {
	r1 := Rule{ID: "a", Stage: StageDefault, Priority: 1, IsActive: true, WorkspaceID: "ws"}
	r2 := Rule{ID: "b", Stage: StageDefault, Priority: 2, IsActive: true, WorkspaceID: "ws"}

	h1, err := NewSnapshot("ws", 1, []Rule{r1, r2}).Hash()
	require.NoError(t, err)
	h2, err := NewSnapshot("ws", 2, []Rule{r2, r1}).Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "version is not part of the content hash")

	r2.Priority = 0
	h3, err := NewSnapshot("ws", 1, []Rule{r1, r2}).Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestSnapshotOnlyKeepsOrderAndHashesSubset(t *testing.T) {
	snap := NewSnapshot("ws", 4, []Rule{
		{ID: "post", Stage: StagePost, Priority: 1, IsActive: true, WorkspaceID: "ws"},
		{ID: "b", Stage: StageDefault, Priority: 20, IsActive: true, WorkspaceID: "ws"},
		{ID: "a", Stage: StageDefault, Priority: 10, IsActive: true, WorkspaceID: "ws"},
		{ID: "pre", Stage: StagePre, Priority: 1, IsActive: true, WorkspaceID: "ws"},
	})

	sub := snap.Only("post", "b", "pre", "ghost")
	var ids []string
	for _, r := range sub.All() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"pre", "b", "post"}, ids)
	assert.Equal(t, int64(4), sub.Version())
	assert.Equal(t, "ws", sub.Workspace())
	assert.Len(t, sub.Rules(StageDefault), 1)
	assert.Equal(t, 4, snap.Len(), "source snapshot is untouched")

	full, err := snap.Hash()
	require.NoError(t, err)
	partial, err := sub.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, full, partial)

	assert.Same(t, snap, snap.Only())
	assert.Zero(t, snap.Only("ghost").Len())
	var nilSnap *Snapshot
	assert.Nil(t, nilSnap.Only("a"))
}

func TestNilSnapshotIsEmpty(t *testing.T) {
	var snap *Snapshot
	assert.Equal(t, 0, snap.Len())
	assert.Nil(t, snap.Rules(StagePre))
	_, err := snap.Hash()
	assert.NoError(t, err)
}

func TestGroupByStageIncludesInactive(t *testing.T) {
	g := GroupByStage(3, []Rule{
		{ID: "x", Stage: StagePost, Priority: 2},
		{ID: "y", Stage: StagePost, Priority: 1, IsActive: true},
		{ID: "bad", Stage: "weird"},
	})
	assert.Equal(t, int64(3), g.Version)
	assert.Empty(t, g.Pre)
	require.Len(t, g.Post, 2)
	assert.Equal(t, "y", g.Post[0].ID)
	assert.Equal(t, g.Post, g.Stage(StagePost))
}

func TestRuleHashExcludesCosmeticFields(t *testing.T) {
	r := Rule{ID: "r", Name: "one", Stage: StagePre, Priority: 5}
	h1, err := RuleHash(r)
	require.NoError(t, err)

	r.Name = "two"
	r.TimesApplied = 9
	h2, err := RuleHash(r)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
