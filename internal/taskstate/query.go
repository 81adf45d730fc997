package taskstate

import (
	"slices"
	"sort"
)

// sortNewestFirst orders by CreatedAt descending. Tasks created in the same
// instant keep reverse insertion order, so the later one comes first.
func sortNewestFirst(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for i := len(tasks) - 1; i >= 0; i-- {
		out = append(out, tasks[i].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Paginate slices tasks into 1-based pages. page < 1 is read as 1 and
// pageSize < 1 as DefaultPageSize; pages past the end are empty.
func Paginate(tasks []Task, page, pageSize int) Page {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	total := len(tasks)
	start := (page - 1) * pageSize
	if start >= total || start < 0 {
		return Page{List: []Task{}, Total: total}
	}
	end := min(start+pageSize, total)
	return Page{List: slices.Clone(tasks[start:end]), Total: total}
}

// FilterByStepStatus keeps tasks with at least one step in status. A nil
// status keeps everything.
func FilterByStepStatus(tasks []Task, status *StepStatus) []Task {
	if status == nil {
		return tasks
	}
	out := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		if task.HasStepStatus(*status) {
			out = append(out, task)
		}
	}
	return out
}
