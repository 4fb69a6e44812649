/*
Package catalog provides the recipe lookup collaborator the settlement
engine prices orders and attributes revenue with.

The engine only needs GetRecipe and RecipesByAuthor. Add, Delete and
Reset exist for demo scenarios and tests (a deleted recipe is how a
partial settlement happens).
*/
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/payment-engine/settlement"
)

type Memory struct {
	mu      sync.RWMutex
	recipes map[settlement.RecipeID]settlement.Recipe
}

func NewMemory(recipes ...settlement.Recipe) *Memory {
	m := &Memory{recipes: make(map[settlement.RecipeID]settlement.Recipe)}
	for _, r := range recipes {
		m.recipes[r.ID] = r
	}
	return m
}

// DefaultRecipes is the seed catalog: one author, one recipe.
func DefaultRecipes(now time.Time) []settlement.Recipe {
	return []settlement.Recipe{
		{ID: "r1", AuthorID: "u1", Title: "Pasta", PriceCents: 599, CreatedAt: now.UTC()},
	}
}

func (m *Memory) GetRecipe(_ context.Context, id settlement.RecipeID) (settlement.Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recipes[id]
	if !ok {
		return settlement.Recipe{}, settlement.ErrRecipeNotFound
	}
	return r, nil
}

func (m *Memory) RecipesByAuthor(_ context.Context, authorID settlement.AuthorID) ([]settlement.Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []settlement.Recipe
	for _, r := range m.recipes {
		if r.AuthorID == authorID {
			result = append(result, r)
		}
	}
	sortRecipes(result)
	return result, nil
}

func (m *Memory) ListRecipes(_ context.Context) ([]settlement.Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]settlement.Recipe, 0, len(m.recipes))
	for _, r := range m.recipes {
		result = append(result, r)
	}
	sortRecipes(result)
	return result, nil
}

// AddRecipe inserts or replaces a recipe.
func (m *Memory) AddRecipe(_ context.Context, r settlement.Recipe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipes[r.ID] = r
	return nil
}

// DeleteRecipe removes a recipe. Orders referencing it keep their id.
func (m *Memory) DeleteRecipe(_ context.Context, id settlement.RecipeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recipes[id]; !ok {
		return settlement.ErrRecipeNotFound
	}
	delete(m.recipes, id)
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipes = make(map[settlement.RecipeID]settlement.Recipe)
	return nil
}

func sortRecipes(rs []settlement.Recipe) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}
