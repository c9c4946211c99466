package notifcache

import "vn.io.arda/pinnotify/internal/domain"

// View selects one of the two independently paginated listings.
type View string

const (
	ViewAll    View = "ALL"
	ViewUnread View = "UNREAD"
)

// state is both the live cache and a snapshot of it; rollback is an assignment.
type state struct {
	all         []domain.Page
	unread      []domain.Page
	unreadCount int64
}

func (s state) clone() state {
	out := state{unreadCount: s.unreadCount}
	out.all = clonePages(s.all)
	out.unread = clonePages(s.unread)
	return out
}

func clonePages(pages []domain.Page) []domain.Page {
	if pages == nil {
		return nil
	}
	out := make([]domain.Page, len(pages))
	for i, p := range pages {
		out[i] = p.Clone()
	}
	return out
}

func (s *state) view(v View) *[]domain.Page {
	if v == ViewUnread {
		return &s.unread
	}
	return &s.all
}

// find returns the cached copy of id from either view.
func (s *state) find(id string) (domain.Notification, bool) {
	for _, pages := range [][]domain.Page{s.all, s.unread} {
		for _, p := range pages {
			for _, n := range p.Content {
				if n.ID == id {
					return n, true
				}
			}
		}
	}
	return domain.Notification{}, false
}

// replace swaps id in place in every page of pages. It reports whether any entry matched.
func replace(pages []domain.Page, n domain.Notification) bool {
	found := false
	for pi := range pages {
		for i := range pages[pi].Content {
			if pages[pi].Content[i].ID == n.ID {
				pages[pi].Content[i] = n
				found = true
			}
		}
	}
	return found
}

// prepend puts n at the head of the first page, creating it when the view is empty.
func prepend(pages *[]domain.Page, n domain.Notification) {
	if len(*pages) == 0 {
		*pages = []domain.Page{{PageIndex: 0, IsLastPage: true}}
	}
	first := &(*pages)[0]
	first.Content = append([]domain.Notification{n}, first.Content...)
	first.TotalElements++
}

// setStatus flips the status of matching entries in every page.
func setStatus(pages []domain.Page, match func(domain.Notification) bool, s domain.Status) {
	for pi := range pages {
		for i, n := range pages[pi].Content {
			if match(n) {
				pages[pi].Content[i] = n.WithStatus(s)
			}
		}
	}
}

// remove drops id from every page containing it and decrements that page's total.
func remove(pages []domain.Page, id string) {
	for pi := range pages {
		content := pages[pi].Content
		kept := content[:0]
		removed := int64(0)
		for _, n := range content {
			if n.ID == id {
				removed++
				continue
			}
			kept = append(kept, n)
		}
		pages[pi].Content = kept
		if removed > 0 {
			pages[pi].TotalElements = max(pages[pi].TotalElements-removed, 0)
		}
	}
}

func (s *state) addUnread(delta int64) {
	s.unreadCount = max(s.unreadCount+delta, 0)
}
