package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

// CategoryService edits an account's category lists with atomic
// read-modify-write so concurrent editors never lose an update.
type CategoryService struct {
	store store.Writer
}

func NewCategoryService(w store.Writer) *CategoryService {
	return &CategoryService{store: w}
}

func validateCategory(t core.TxType, name string) (string, error) {
	if !t.Valid() {
		return "", core.ErrInvalidType
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", core.ErrEmptyCategory
	}
	return name, nil
}

// Add appends name to the list for t. A missing document starts from the
// defaults; a name already present causes no write.
func (s *CategoryService) Add(ctx context.Context, account string, t core.TxType, name string) error {
	name, err := validateCategory(t, name)
	if err != nil {
		return err
	}

	err = store.Update(ctx, s.store, store.CategoriesPath(account), func(cur json.RawMessage, exists bool) (json.RawMessage, error) {
		set := core.DefaultCategories()
		if exists {
			set = core.CategorySet{}
			if err := json.Unmarshal(cur, &set); err != nil {
				return nil, fmt.Errorf("decode categories: %w", err)
			}
		}
		list := set.For(t)
		if slices.Contains(list, name) {
			return nil, nil
		}
		list = append(list, name)
		slices.Sort(list)
		setList(&set, t, list)
		return json.Marshal(set)
	})
	return core.RemoteWrite("add category", err)
}

// Delete removes name from the list for t. A missing document or name is
// not an error and causes no write.
func (s *CategoryService) Delete(ctx context.Context, account string, t core.TxType, name string) error {
	name, err := validateCategory(t, name)
	if err != nil {
		return err
	}

	err = store.Update(ctx, s.store, store.CategoriesPath(account), func(cur json.RawMessage, exists bool) (json.RawMessage, error) {
		if !exists {
			return nil, nil
		}
		var set core.CategorySet
		if err := json.Unmarshal(cur, &set); err != nil {
			return nil, fmt.Errorf("decode categories: %w", err)
		}
		list := set.For(t)
		i := slices.Index(list, name)
		if i < 0 {
			return nil, nil
		}
		setList(&set, t, slices.Delete(list, i, i+1))
		return json.Marshal(set)
	})
	return core.RemoteWrite("delete category", err)
}

func setList(set *core.CategorySet, t core.TxType, list []string) {
	if list == nil {
		list = []string{}
	}
	if t == core.Income {
		set.Income = list
	} else {
		set.Expense = list
	}
}
