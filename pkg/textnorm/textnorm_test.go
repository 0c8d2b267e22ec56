package textnorm_test

import (
	"testing"

	"github.com/okian/gather/pkg/textnorm"
	. "github.com/smartystreets/goconvey/convey"
)

func TestFold(t *testing.T) {
	Convey("Given noisy text", t, func() {
		So(textnorm.Fold("  Café   del MAR!! "), ShouldEqual, "cafe del mar")
		So(textnorm.Fold("Jazz-Night @ 8pm"), ShouldEqual, "jazz night 8pm")
		So(textnorm.Fold(""), ShouldEqual, "")
	})
}

func TestTokens(t *testing.T) {
	Convey("Given a title with stopwords", t, func() {
		So(textnorm.Tokens("A Night at the Opera"), ShouldResemble, []string{"night", "opera"})
	})
}

func TestVenue(t *testing.T) {
	Convey("Given venue spelling variants", t, func() {
		So(textnorm.Venue("The Rex"), ShouldEqual, "rex")
		So(textnorm.Venue("Royal Alexandra Theatre"), ShouldEqual, "royal alexandra theater")
		So(textnorm.Venue("the"), ShouldEqual, "the")
		So(textnorm.VenueSlug("Massey Hall"), ShouldEqual, "massey-hall")
		So(textnorm.VenueSlug(""), ShouldEqual, "")
	})
}

func TestAddress(t *testing.T) {
	Convey("Given an address with long forms", t, func() {
		So(textnorm.Address("194 Queen Street West"), ShouldEqual, "194 queen st w")
		So(textnorm.Address("194 Queen St. W."), ShouldEqual, "194 queen st w")
	})
}

func TestStripHTML(t *testing.T) {
	Convey("Given an HTML description", t, func() {
		So(textnorm.StripHTML("<p>Live &amp; loud</p>\n<br/>tonight"), ShouldEqual, "Live & loud tonight")
		So(textnorm.CleanSpace("  a \t b "), ShouldEqual, "a b")
	})
}
