// Package command parses the FT.* argument vectors, dispatches them to
// the query core and renders protocol-level replies.
package command

import (
	"strconv"
	"strings"

	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
)

// argIter walks a raw argument vector.
type argIter struct {
	args []string
	pos  int
}

func newArgIter(args []string) *argIter { return &argIter{args: args} }

func (it *argIter) remaining() int { return len(it.args) - it.pos }

func (it *argIter) done() bool { return it.pos >= len(it.args) }

func (it *argIter) peek() (string, bool) {
	if it.done() {
		return "", false
	}
	return it.args[it.pos], true
}

func (it *argIter) next() (string, error) {
	if it.done() {
		return "", kverrors.InvalidArgument("missing argument")
	}
	v := it.args[it.pos]
	it.pos++
	return v, nil
}

// matchKeyword consumes the next argument when it equals kw
// case-insensitively.
func (it *argIter) matchKeyword(kw string) bool {
	if v, ok := it.peek(); ok && strings.EqualFold(v, kw) {
		it.pos++
		return true
	}
	return false
}

func (it *argIter) nextInt(name string) (int, error) {
	v, err := it.next()
	if err != nil {
		return 0, kverrors.InvalidArgument("missing value for %s", name)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, kverrors.InvalidArgument("%s must be an integer, got `%s`", name, v)
	}
	return n, nil
}

func (it *argIter) nextFloat(name string) (float64, error) {
	v, err := it.next()
	if err != nil {
		return 0, kverrors.InvalidArgument("missing value for %s", name)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, kverrors.InvalidArgument("%s must be a number, got `%s`", name, v)
	}
	return f, nil
}
