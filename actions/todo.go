package actions

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// TodoList is the in-memory task tracker behind the todo tool. It lives
// for one executor, which in practice means one session.
type TodoList struct {
	mu    sync.Mutex
	items []todoItem
}

type todoItem struct {
	text string
	done bool
}

// NewTodoList creates an empty list.
func NewTodoList() *TodoList {
	return &TodoList{}
}

// Apply runs one todo action and returns the rendered list.
func (t *TodoList) Apply(action, item string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch action {
	case "add":
		if strings.TrimSpace(item) == "" {
			return "", errors.New("todo add requires item text")
		}
		t.items = append(t.items, todoItem{text: strings.TrimSpace(item)})
	case "done":
		n, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil || n < 1 || n > len(t.items) {
			return "", errors.Errorf("todo done requires an item number between 1 and %d", len(t.items))
		}
		t.items[n-1].done = true
	case "list":
	default:
		return "", errors.Errorf("unknown todo action %q", action)
	}

	return t.render(), nil
}

func (t *TodoList) render() string {
	if len(t.items) == 0 {
		return "No todo items."
	}
	var sb strings.Builder
	for i, it := range t.items {
		mark := " "
		if it.done {
			mark = "x"
		}
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, mark, it.text)
	}
	return strings.TrimRight(sb.String(), "\n")
}
