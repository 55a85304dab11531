package jkt48api

import (
	"context"
	"net/url"
	"strconv"
)

const (
	membersPath  = "/api/jkt48/members"
	memberPath   = "/api/jkt48/member/"
	theaterPath  = "/api/jkt48/theater"
	eventsPath   = "/api/jkt48/events"
	livePath     = "/api/jkt48/live"
	recentPath   = "/api/jkt48/recent"
	replayPath   = "/api/jkt48/replay"
	youtubePath  = "/api/jkt48/youtube"
	birthdayPath = "/api/jkt48/birthday"
)

// Members lists the roster.
func (client *Client) Members(ctx context.Context) ([]Member, error) {
	var members []Member
	if err := client.get(ctx, membersPath, nil, &members); err != nil {
		return nil, err
	}
	for index := range members {
		normalizeMember(&members[index])
	}
	return members, nil
}

// MemberDetail fetches one member by url key.
func (client *Client) MemberDetail(ctx context.Context, name string) (MemberDetail, error) {
	segment, err := pathSegment(name)
	if err != nil {
		return MemberDetail{}, err
	}
	var detail MemberDetail
	if err := client.get(ctx, memberPath+segment, nil, &detail); err != nil {
		return MemberDetail{}, err
	}
	normalizeMember(&detail.Member)
	if detail.Socials == nil {
		detail.Socials = []SocialLink{}
	}
	return detail, nil
}

// Theater lists theater shows.
func (client *Client) Theater(ctx context.Context) ([]TheaterShow, error) {
	var shows []TheaterShow
	if err := client.get(ctx, theaterPath, nil, &shows); err != nil {
		return nil, err
	}
	return shows, nil
}

// TheaterDetail fetches one show.
func (client *Client) TheaterDetail(ctx context.Context, id string) (TheaterDetail, error) {
	segment, err := pathSegment(id)
	if err != nil {
		return TheaterDetail{}, err
	}
	var detail TheaterDetail
	if err := client.get(ctx, theaterPath+"/"+segment, nil, &detail); err != nil {
		return TheaterDetail{}, err
	}
	normalizeTheaterDetail(&detail)
	return detail, nil
}

// Events lists scheduled events.
func (client *Client) Events(ctx context.Context) ([]Event, error) {
	var events []Event
	if err := client.get(ctx, eventsPath, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Live lists current broadcasts on both platforms.
func (client *Client) Live(ctx context.Context) ([]LiveStream, error) {
	var streams []LiveStream
	if err := client.get(ctx, livePath, nil, &streams); err != nil {
		return nil, err
	}
	for index := range streams {
		normalizeLive(&streams[index])
	}
	return streams, nil
}

// Recent lists finished broadcasts.
func (client *Client) Recent(ctx context.Context) ([]RecentLive, error) {
	var recent []RecentLive
	if err := client.get(ctx, recentPath, nil, &recent); err != nil {
		return nil, err
	}
	return recent, nil
}

// RecentDetail fetches one finished broadcast.
func (client *Client) RecentDetail(ctx context.Context, id string) (RecentDetail, error) {
	segment, err := pathSegment(id)
	if err != nil {
		return RecentDetail{}, err
	}
	var detail RecentDetail
	if err := client.get(ctx, recentPath+"/"+segment, nil, &detail); err != nil {
		return RecentDetail{}, err
	}
	if detail.Gifts == nil {
		detail.Gifts = []Gift{}
	}
	return detail, nil
}

// Replay lists archived broadcasts; page is 1-based and zero means the first page.
func (client *Client) Replay(ctx context.Context, page int) ([]Replay, error) {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	var replays []Replay
	if err := client.get(ctx, replayPath, query, &replays); err != nil {
		return nil, err
	}
	return replays, nil
}

// YouTube lists official channel uploads.
func (client *Client) YouTube(ctx context.Context) ([]YouTubeVideo, error) {
	var videos []YouTubeVideo
	if err := client.get(ctx, youtubePath, nil, &videos); err != nil {
		return nil, err
	}
	return videos, nil
}

// Birthday lists upcoming birthdays.
func (client *Client) Birthday(ctx context.Context) ([]Birthday, error) {
	var birthdays []Birthday
	if err := client.get(ctx, birthdayPath, nil, &birthdays); err != nil {
		return nil, err
	}
	return birthdays, nil
}
