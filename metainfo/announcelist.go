package metainfo

import (
	"net/url"
	"slices"
)

// Tiers of tracker URLs, as produced by whatever parsed the .torrent or magnet link.
type AnnounceList [][]string

func (al AnnounceList) Clone() (ret AnnounceList) {
	for _, tier := range al {
		ret = append(ret, slices.Clone(tier))
	}
	return
}

func (al AnnounceList) DistinctValues() (ret []string) {
	seen := make(map[string]struct{})
	for _, tier := range al {
		for _, v := range tier {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				ret = append(ret, v)
			}
		}
	}
	return
}

// Distinct URLs whose scheme matches one of schemes, in tier order. Unparseable URLs are skipped.
func (al AnnounceList) WithSchemes(schemes ...string) (ret []string) {
	for _, v := range al.DistinctValues() {
		u, err := url.Parse(v)
		if err != nil {
			continue
		}
		if slices.Contains(schemes, u.Scheme) {
			ret = append(ret, v)
		}
	}
	return
}
