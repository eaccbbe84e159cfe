package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/trezcool/kupanda/core/school"
	"github.com/trezcool/kupanda/core/transition"
)

var (
	confirmFunc = confirm // mockable

	errHelp         = errors.New("help provided")
	errAborted      = errors.New("aborted")
	errNotATerminal = errors.New("stdin is not a terminal: pass -yes to skip the confirmation")
)

type commandLine struct {
	db  *sql.DB // postgres store only
	svc transition.ServiceInterface
	out io.Writer
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.out, "Usage:")
	_, _ = fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command against the postgres store")
	_, _ = fmt.Fprintln(cli.out, "  classes -school SCHOOL - list the classes of a school in promotion order")
	_, _ = fmt.Fprintln(cli.out, "  purgehistory -school SCHOOL [-yes] - delete the attendance history of a school")
	_, _ = fmt.Fprintln(cli.out, "  transition -school SCHOOL -class CLASS -decision DECISION [-chunk N] [-yes] - apply one decision to a whole class")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	classesCmd := flag.NewFlagSet("classes", flag.ExitOnError)
	classesSchool := classesCmd.String("school", "", "The school id.")

	purgeCmd := flag.NewFlagSet("purgehistory", flag.ExitOnError)
	purgeSchool := purgeCmd.String("school", "", "The school id.")
	purgeYes := purgeCmd.Bool("yes", false, "Do not ask for confirmation.")

	transitionCmd := flag.NewFlagSet("transition", flag.ExitOnError)
	transitionSchool := transitionCmd.String("school", "", "The school id.")
	transitionClass := transitionCmd.String("class", "", "The id of the class to transition.")
	transitionDecision := transitionCmd.String("decision", string(school.DecisionPromote), "promote, retain, demote or leave; applied to every student.")
	transitionChunk := transitionCmd.Int("chunk", 0, "Ops per atomic commit; the configured size when 0.")
	transitionYes := transitionCmd.Bool("yes", false, "Do not ask for confirmation.")
	transitionAdmin := transitionCmd.String("admin-email", "", "Where to send the transition report.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "classes":
		if err := classesCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *classesSchool == "" {
			classesCmd.Usage()
			return errHelp
		}
		return cli.listClasses(school.Session{SchoolID: *classesSchool})
	case "purgehistory":
		if err := purgeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *purgeSchool == "" {
			purgeCmd.Usage()
			return errHelp
		}
		return cli.purgeHistory(school.Session{SchoolID: *purgeSchool}, *purgeYes)
	case "transition":
		if err := transitionCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *transitionSchool == "" || *transitionClass == "" {
			transitionCmd.Usage()
			return errHelp
		}
		sess := school.Session{SchoolID: *transitionSchool, AdminName: "admin CLI", AdminEmail: *transitionAdmin}
		return cli.transition(sess, *transitionClass, school.Decision(*transitionDecision), *transitionChunk, *transitionYes)
	default:
		cli.printUsage()
		return errHelp
	}
}

// confirm asks a yes/no question on the terminal.
func confirm(question string) (bool, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return false, errNotATerminal
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return false, err
	}
	defer func() { _ = term.Restore(fd, state) }()

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "")
	_, _ = t.Write([]byte(question + " [y/N]: "))
	answer, err := t.ReadLine()
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}
