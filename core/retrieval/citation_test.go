package retrieval

import (
	"testing"

	"github.com/siherrmann/citegraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	t.Run("Short text is kept", func(t *testing.T) {
		assert.Equal(t, "alpha beta", Quote("alpha beta", 280))
		assert.Equal(t, "alpha beta", Quote("alpha beta", 0))
	})

	t.Run("Cut at a word boundary", func(t *testing.T) {
		assert.Equal(t, "alpha beta", Quote("alpha beta gamma", 12))
	})

	t.Run("Never splits a rune", func(t *testing.T) {
		assert.Equal(t, "é", Quote("ééé", 3))
	})
}

func testAnswer() *model.Answer {
	return &model.Answer{
		Text: "Altman founded it [1]. Microsoft invested [2]. Both matter [1][2]. Uncited closing words.",
		Citations: []model.CitationRecord{
			{Index: 1, Title: "b history", Relevance: 0.4, PublishedAt: date(2020)},
			{Index: 2, Title: "A news", Relevance: 0.9, PublishedAt: date(2022)},
		},
	}
}

func TestCitationPage(t *testing.T) {
	answer := testAnswer()

	t.Run("Excerpt holds the sentences resolving on the page", func(t *testing.T) {
		first := CitationPage(answer, model.ListOptions{PageRequest: model.PageRequest{Page: 1, PageSize: 1}})
		require.Len(t, first.Citations.Results, 1)
		assert.Equal(t, 1, first.Citations.Results[0].Index)
		assert.Equal(t, "Altman founded it [1].", first.Excerpt)

		all := CitationPage(answer, model.ListOptions{PageRequest: model.PageRequest{Page: 1, PageSize: 10}})
		assert.Equal(t, "Altman founded it [1]. Microsoft invested [2]. Both matter [1][2].", all.Excerpt)
	})

	t.Run("Every marker of the excerpt is on the page", func(t *testing.T) {
		for p := 1; p <= 2; p++ {
			page := CitationPage(answer, model.ListOptions{PageRequest: model.PageRequest{Page: p, PageSize: 1}})
			onPage := make(map[int]bool)
			for _, c := range page.Citations.Results {
				onPage[c.Index] = true
			}
			for _, n := range Markers(page.Excerpt) {
				assert.True(t, onPage[n], "Expected marker [%d] of page %d to be on the page", n, p)
			}
		}
	})

	t.Run("Sorting", func(t *testing.T) {
		byRelevance := CitationPage(answer, model.ListOptions{SortBy: model.SortByRelevance})
		assert.Equal(t, 2, byRelevance.Citations.Results[0].Index, "Expected relevance to sort descending by default")

		byTitle := CitationPage(answer, model.ListOptions{SortBy: model.SortByTitle})
		assert.Equal(t, 2, byTitle.Citations.Results[0].Index, "Expected titles to compare case insensitively")

		byDateAsc := CitationPage(answer, model.ListOptions{SortBy: model.SortByDate, Order: model.SortAsc})
		assert.Equal(t, 1, byDateAsc.Citations.Results[0].Index)

		byOrdinalDesc := CitationPage(answer, model.ListOptions{Order: model.SortDesc})
		assert.Equal(t, 2, byOrdinalDesc.Citations.Results[0].Index)
	})

	t.Run("Filters", func(t *testing.T) {
		relevant := CitationPage(answer, model.ListOptions{MinRelevance: 0.5})
		require.Len(t, relevant.Citations.Results, 1)
		assert.Equal(t, 2, relevant.Citations.Results[0].Index)
		assert.Equal(t, 1, relevant.Citations.TotalCount)
		assert.Equal(t, "Microsoft invested [2].", relevant.Excerpt)

		dated := CitationPage(answer, model.ListOptions{To: date(2021)})
		require.Len(t, dated.Citations.Results, 1)
		assert.Equal(t, 1, dated.Citations.Results[0].Index)
	})

	t.Run("Total count matches iterating all pages", func(t *testing.T) {
		seen := 0
		first := CitationPage(answer, model.ListOptions{PageRequest: model.PageRequest{Page: 1, PageSize: 1}})
		for p := 1; p <= first.Citations.TotalPages; p++ {
			seen += len(CitationPage(answer, model.ListOptions{PageRequest: model.PageRequest{Page: p, PageSize: 1}}).Citations.Results)
		}
		assert.Equal(t, first.Citations.TotalCount, seen)
	})
}
