package resources

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"eventbot/internal/config"
)

const facebookTimeLayout = "2006-01-02T15:04:05-0700"

func (r *Resources) fetchEvents(ctx context.Context, n int) ([]Event, error) {
	fetch := r.meetupEvents
	if r.cfg.EventsSource == config.SourceFacebook {
		fetch = r.facebookEvents
	}

	perGroup := make([][]Event, len(r.cfg.GroupNames))
	g, gctx := errgroup.WithContext(ctx)
	for i, group := range r.cfg.GroupNames {
		i, group := i, group
		g.Go(func() error {
			events, err := fetch(gctx, group, n)
			if err != nil {
				return fmt.Errorf("events for %s: %w", group, err)
			}
			perGroup[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Event
	for _, events := range perGroup {
		all = append(all, events...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Time.Before(all[j].Time) })
	return all, nil
}

func (r *Resources) meetupEvents(ctx context.Context, group string, n int) ([]Event, error) {
	var raw []struct {
		Name string `json:"name"`
		Time int64  `json:"time"`
		Link string `json:"link"`
	}
	params := url.Values{
		"key":    {r.cfg.MeetupKey},
		"status": {"upcoming"},
		"only":   {"name,time,link"},
		"page":   {strconv.Itoa(n)},
	}
	if err := r.getJSON(ctx, r.cfg.MeetupAPIURL+"/"+url.PathEscape(group)+"/events", params, &raw); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(raw))
	for _, e := range raw {
		events = append(events, Event{
			Name: e.Name,
			Time: time.UnixMilli(e.Time).In(r.loc),
			Link: r.ShortURL(ctx, e.Link),
		})
	}
	return events, nil
}

func (r *Resources) facebookEvents(ctx context.Context, group string, n int) ([]Event, error) {
	var raw struct {
		Data []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			StartTime string `json:"start_time"`
		} `json:"data"`
	}
	params := url.Values{
		"access_token": {r.cfg.FacebookKey},
		"since":        {"today"},
		"fields":       {"name,start_time"},
		"limit":        {strconv.Itoa(n)},
	}
	if err := r.getJSON(ctx, r.cfg.FacebookAPIURL+"/"+url.PathEscape(group)+"/events", params, &raw); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(raw.Data))
	for _, e := range raw.Data {
		start, err := time.Parse(facebookTimeLayout, e.StartTime)
		if err != nil {
			return nil, fmt.Errorf("event %s start_time: %w", e.ID, err)
		}
		events = append(events, Event{
			Name: e.Name,
			Time: start.In(r.loc),
			Link: r.ShortURL(ctx, "https://www.facebook.com/events/"+e.ID),
		})
	}
	return events, nil
}
