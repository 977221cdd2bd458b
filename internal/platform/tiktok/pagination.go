package tiktok

import (
	"context"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"tiktok-extractor/pkg/models"
)

type pagerState int

const (
	stateFetching pagerState = iota
	stateRetrying
	stateHasItems
	stateExhausted
	stateDone
)

// listQuery describes a cursor-paginated API listing
type listQuery struct {
	Kind        string
	Endpoint    string
	DisplayID   string
	Query       url.Values
	CursorParam string
	CursorField string
}

// Pager walks a paginated API listing one item at a time. It fetches a page
// only when the previous one is used up and stops when the API reports no
// more items. A page whose response looks like an app version rejection is
// fetched again, up to once per app version candidate.
type Pager struct {
	c        *Client
	q        listQuery
	state    pagerState
	cursor   string
	page     int
	hasMore  bool
	items    []gjson.Result
	pos      int
	retries  int
	record   *models.MediaRecord
	err      error
	decorate func(*models.MediaRecord)
}

func newPager(c *Client, q listQuery, decorate func(*models.MediaRecord)) *Pager {
	if q.CursorParam == "" {
		q.CursorParam = "cursor"
	}
	if q.CursorField == "" {
		q.CursorField = "cursor"
	}
	return &Pager{
		c:        c,
		q:        q,
		state:    stateFetching,
		cursor:   "0",
		decorate: decorate,
	}
}

// listingQuery is the base query shared by the sound, effect and tag listings
func listingQuery(idParam, id string, count int) url.Values {
	return url.Values{
		idParam:     {id},
		"count":     {strconv.Itoa(count)},
		"type":      {"5"},
		"device_id": {randomString(decimalDigits, 19)},
	}
}

// Next advances to the next record
func (p *Pager) Next(ctx context.Context) bool {
	for {
		switch p.state {
		case stateHasItems:
			if p.pos < len(p.items) {
				item := p.items[p.pos]
				p.pos++
				record, err := p.c.reconciler.ReconcileNative(ctx, NativeItem{Data: item})
				if err != nil {
					p.c.logger.Warn().Err(err).Str("list", p.q.DisplayID).Msg("Skipping item that could not be parsed")
					continue
				}
				if p.decorate != nil {
					p.decorate(record)
				}
				p.record = record
				return true
			}
			if p.hasMore {
				p.state = stateFetching
			} else {
				p.state = stateExhausted
			}

		case stateFetching, stateRetrying:
			if err := ctx.Err(); err != nil {
				p.fail(err)
				return false
			}
			err := p.fetch(ctx)
			switch {
			case err == nil:
				p.retries = 0
				p.state = stateHasItems
			case IsVersionRejected(err) && p.retries < len(p.c.api.Session().Candidates()):
				p.retries++
				p.c.logger.Warn().Msgf("%v. Retrying page %d... (attempt %d)", err, p.page+1, p.retries)
				p.state = stateRetrying
			default:
				p.fail(err)
				return false
			}

		case stateExhausted:
			p.record = nil
			p.state = stateDone
			return false

		default:
			return false
		}
	}
}

// Record returns the current record
func (p *Pager) Record() *models.MediaRecord {
	return p.record
}

// Err returns the error that stopped the iteration
func (p *Pager) Err() error {
	return p.err
}

// Page returns the number of pages fetched so far
func (p *Pager) Page() int {
	return p.page
}

func (p *Pager) fail(err error) {
	p.err = err
	p.record = nil
	p.state = stateDone
}

func (p *Pager) fetch(ctx context.Context) error {
	query := make(url.Values, len(p.q.Query)+1)
	for k, v := range p.q.Query {
		query[k] = v
	}
	query.Set(p.q.CursorParam, p.cursor)

	p.c.logger.Debug().Str("list", p.q.DisplayID).Int("page", p.page+1).Msg("Downloading video list page")

	res, err := p.c.api.Call(ctx, p.q.Endpoint, query, p.q.DisplayID, true)
	if err != nil {
		return err
	}
	p.page++

	p.items = res.Get("aweme_list").Array()
	p.pos = 0
	p.hasMore = res.Get("has_more").Bool()

	if p.hasMore {
		next := res.Get(p.q.CursorField).String()
		if next == "" || (next == p.cursor && len(p.items) == 0) {
			p.c.logger.Warn().Str("list", p.q.DisplayID).Msg("Listing reported more items without a new cursor, stopping")
			p.hasMore = false
		}
		p.cursor = next
	}

	p.c.recordPage(p.q.Kind, len(p.items))
	return nil
}
