package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/trezcool/kupanda/core/school"
	"github.com/trezcool/kupanda/core/transition"
)

func (cli *commandLine) listClasses(sess school.Session) error {
	classes, err := cli.svc.Classes(context.Background(), sess)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTUDENTS")
	for _, c := range classes {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", c.ID, c.Name, c.StudentCount)
	}
	return w.Flush()
}

func (cli *commandLine) printReport(stage string, r transition.CommitReport) {
	_, _ = fmt.Fprintf(cli.out, "%s: %d op(s), %d chunk(s) committed, %d failed, %d pending\n",
		stage, r.Ops, r.Committed, r.Failed, r.Pending)
}

func (cli *commandLine) purgeHistory(sess school.Session, yes bool) error {
	if !yes {
		ok, err := confirmFunc(fmt.Sprintf("Delete the whole attendance history of school %q?", sess.SchoolID))
		if err != nil {
			return err
		}
		if !ok {
			return errAborted
		}
	}

	report, err := cli.svc.PurgeHistory(context.Background(), sess)
	cli.printReport("purge", report)
	return err
}

// transition selects the class, applies decision to every student and commits.
func (cli *commandLine) transition(sess school.Session, classID string, decision school.Decision, chunkSize int, yes bool) error {
	ctx := context.Background()

	roster, err := cli.svc.Select(ctx, sess, classID)
	if err != nil {
		return err
	}
	if err = cli.svc.SetAllDecisions(sess, classID, decision); err != nil {
		_ = cli.svc.Discard(sess, classID)
		return err
	}

	if !yes {
		question := fmt.Sprintf("%s %d student(s) of %s and purge the attendance history of school %q?",
			decision, len(roster.Candidates), roster.Class.Name, sess.SchoolID)
		ok, err := confirmFunc(question)
		if err != nil || !ok {
			_ = cli.svc.Discard(sess, classID)
			if err != nil {
				return err
			}
			return errAborted
		}
	}

	res, err := cli.svc.Commit(ctx, sess, classID, chunkSize)
	cli.printReport("purge", res.Purge)
	cli.printReport("moves", res.Moves)
	_, _ = fmt.Fprintf(cli.out, "run %s: %s (%+v)\n", res.RunID, res.State, res.Counts)
	for _, s := range res.Skipped {
		_, _ = fmt.Fprintf(cli.out, "skipped %s: %s\n", s.ID, s.Reason)
	}
	return err
}
