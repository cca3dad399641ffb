package correspondence

import (
	"path/filepath"

	"go.viam.com/demalign/utils"
)

const (
	// InterestPointExtension replaces an image's extension to name its interest point file.
	InterestPointExtension = ".vwip"
	// MatchExtension ends the name of a match file.
	MatchExtension = ".match"
)

// InterestPointKey is where the interest points of imagePath are cached.
func InterestPointKey(imagePath string) string {
	return utils.ChangeExtension(imagePath, InterestPointExtension)
}

// MatchKey is where the matches between imageA and imageB are cached. It lives next to imageA.
func MatchKey(imageA, imageB string) string {
	return filepath.Join(filepath.Dir(imageA), utils.BaseName(imageA)+"__"+utils.BaseName(imageB)+MatchExtension)
}
