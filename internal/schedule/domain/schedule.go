package domain

import (
	"fmt"
	"sort"
	"time"
)

// Schedule is one class session.
type Schedule struct {
	ID          int64     `json:"id"`
	GroupName   string    `json:"groupName"`
	TeacherName string    `json:"teacherName"`
	Subject     string    `json:"subject"`
	Room        string    `json:"room"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
}

// Filter narrows a listing. Zero fields do not constrain. A session matches a
// time window only when it lies entirely inside it.
type Filter struct {
	Group   string
	Teacher string
	From    time.Time
	To      time.Time
}

// Day returns the window covering the calendar day of t in t's location.
func Day(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

func (f Filter) Matches(s Schedule) bool {
	if f.Group != "" && s.GroupName != f.Group {
		return false
	}
	if f.Teacher != "" && s.TeacherName != f.Teacher {
		return false
	}
	if !f.From.IsZero() && s.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && s.EndTime.After(f.To) {
		return false
	}
	return true
}

type TimeSlot struct {
	TimeSlot  string     `json:"timeSlot"`
	Schedules []Schedule `json:"schedules"`
}

// SlotKey formats the wall-clock span of s as "HH:MM-HH:MM" in UTC.
func SlotKey(s Schedule) string {
	start, end := s.StartTime.UTC(), s.EndTime.UTC()
	return fmt.Sprintf("%02d:%02d-%02d:%02d", start.Hour(), start.Minute(), end.Hour(), end.Minute())
}

// GroupByTimeSlot buckets schedules by SlotKey. Slots are ordered by key and
// sessions within a slot by group name, then start time.
func GroupByTimeSlot(schedules []Schedule) []TimeSlot {
	buckets := make(map[string][]Schedule)
	for _, s := range schedules {
		key := SlotKey(s)
		buckets[key] = append(buckets[key], s)
	}

	slots := make([]TimeSlot, 0, len(buckets))
	for key, items := range buckets {
		sort.Slice(items, func(i, j int) bool {
			if items[i].GroupName != items[j].GroupName {
				return items[i].GroupName < items[j].GroupName
			}
			return items[i].StartTime.Before(items[j].StartTime)
		})
		slots = append(slots, TimeSlot{TimeSlot: key, Schedules: items})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].TimeSlot < slots[j].TimeSlot })
	return slots
}

type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is what the change feed pushes to subscribers.
type Event struct {
	Type     EventType `json:"type"`
	Schedule Schedule  `json:"schedule"`
}
