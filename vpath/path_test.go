package vpath_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/ash2txt/htreefs/vpath"
)

type PathTest struct {
	suite.Suite
}

func TestPathSuite(t *testing.T) {
	suite.Run(t, new(PathTest))
}

func (t *PathTest) TestParseRoot() {
	assert.True(t.T(), vpath.Parse("").IsRoot())
	assert.True(t.T(), vpath.Parse("/").IsRoot())
	assert.True(t.T(), vpath.Parse("///").IsRoot())
}

func (t *PathTest) TestParseNormalizesSlashes() {
	a := vpath.Parse("/a//b/")
	b := vpath.Parse("a/b")
	assert.True(t.T(), a.Equal(b))
	assert.Equal(t.T(), "a/b", a.String())
}

func (t *PathTest) TestJoin() {
	p := vpath.Parse("a/b").Join("c")
	assert.Equal(t.T(), "a/b/c", p.String())
}

func (t *PathTest) TestParentOfRoot() {
	_, ok := vpath.Root.Parent()
	assert.False(t.T(), ok)
}

func (t *PathTest) TestParentAndBase() {
	p := vpath.Parse("a/b/c")
	parent, ok := p.Parent()
	assert.True(t.T(), ok)
	assert.Equal(t.T(), "a/b", parent.String())
	assert.Equal(t.T(), "c", p.Base())
}

func (t *PathTest) TestSegmentsImmutable() {
	p := vpath.Parse("a/b")
	segs := p.Segments()
	segs[0] = "z"
	assert.Equal(t.T(), "a/b", p.String())
}
