package taskstate

import "time"

// mergeStepsByTitle rebuilds the step list from titles. The k-th occurrence of
// a title reuses the k-th existing step with that title (id, status and
// timestamps kept); titles without a remaining match become new processing
// steps. Existing steps that are not matched are dropped.
func (s *Service) mergeStepsByTitle(existing []Step, titles []string, now time.Time) []Step {
	pool := make(map[string][]Step, len(existing))
	used := make(map[string]struct{}, len(existing)+len(titles))
	for _, step := range existing {
		pool[step.Title] = append(pool[step.Title], step)
		used[step.ID] = struct{}{}
	}
	out := make([]Step, 0, len(titles))
	for _, title := range titles {
		if candidates := pool[title]; len(candidates) > 0 {
			out = append(out, candidates[0])
			pool[title] = candidates[1:]
			continue
		}
		out = append(out, s.newStep(title, now, used))
	}
	return out
}
