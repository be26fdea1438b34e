// Package cron schedules periodic maintenance tasks from standard five-field
// cron expressions.
package cron

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

const standardFields = cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{parser: cron.NewParser(standardFields)}
}

// Parse compiles expression evaluated in the named IANA timezone.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, errors.Wrapf(err, "parse cron %q", expression)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", timezone)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}
