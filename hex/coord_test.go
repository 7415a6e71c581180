package hex

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNeighborsAndAdjacency(t *testing.T) {
	Convey("Given a hex at (2,-1)", t, func() {
		c := Coord{Q: 2, R: -1}

		Convey("its six neighbors are all distance 1 away", func() {
			for _, n := range Neighbors(c) {
				So(Distance(c, n), ShouldEqual, 1)
				So(IsAdjacent(c, n), ShouldBeTrue)
			}
		})

		Convey("a hex two steps away is not adjacent", func() {
			far := Coord{Q: c.Q + 2, R: c.R}
			So(IsAdjacent(c, far), ShouldBeFalse)
		})

		Convey("distance to itself is zero", func() {
			So(Distance(c, c), ShouldEqual, 0)
		})
	})
}

func TestRingAndSpiral(t *testing.T) {
	Convey("Given a ring of radius 2 around a center", t, func() {
		center := Coord{Q: 1, R: -2}
		ring := Ring(center, 2)

		Convey("it holds exactly 6*radius distinct hexes, all at distance 2", func() {
			So(len(ring), ShouldEqual, 12)
			seen := make(map[Coord]bool)
			for _, c := range ring {
				So(Distance(center, c), ShouldEqual, 2)
				So(seen[c], ShouldBeFalse)
				seen[c] = true
			}
		})

		Convey("radius zero yields only the center", func() {
			So(Ring(center, 0), ShouldResemble, []Coord{center})
		})
	})

	Convey("A spiral of radius 2 covers the center and both rings exactly once", t, func() {
		sp := Spiral(Origin, 2)
		So(len(sp), ShouldEqual, 1+6+12)
		seen := make(map[Coord]bool)
		for _, c := range sp {
			So(seen[c], ShouldBeFalse)
			seen[c] = true
			So(Distance(Origin, c), ShouldBeLessThanOrEqualTo, 2)
		}
	})
}

func TestLessOrdering(t *testing.T) {
	Convey("Coordinate ordering is lexicographic on (Q, R)", t, func() {
		So(Less(Coord{Q: 0, R: 5}, Coord{Q: 1, R: -5}), ShouldBeTrue)
		So(Less(Coord{Q: 1, R: -5}, Coord{Q: 0, R: 5}), ShouldBeFalse)
		So(Less(Coord{Q: 1, R: 0}, Coord{Q: 1, R: 1}), ShouldBeTrue)
		So(Less(Coord{Q: 1, R: 1}, Coord{Q: 1, R: 1}), ShouldBeFalse)
	})
}
