package executor

import (
	"strconv"

	"github.com/t77yq/scrape-scheduler/internal/model"
)

// pageURL builds the URL submitted for one page: baseURL?param=page
func pageURL(baseURL, param string, page int) string {
	return baseURL + "?" + param + "=" + strconv.Itoa(page)
}

// expandActions returns a fresh copy of actions with the url placeholder
// substituted for url.
func expandActions(actions []model.Action, url string) []model.Action {
	out := make([]model.Action, len(actions))
	for i, a := range actions {
		out[i] = a.WithPageURL(url)
	}
	return out
}

// partition splits pages into consecutive batches of at most size pages.
func partition(pages []int, size int) [][]int {
	if size < 1 {
		size = 1
	}
	batches := make([][]int, 0, (len(pages)+size-1)/size)
	for start := 0; start < len(pages); start += size {
		end := start + size
		if end > len(pages) {
			end = len(pages)
		}
		batches = append(batches, pages[start:end])
	}
	return batches
}
