package spotify

import (
	"github.com/zmb3/spotify/v2"

	"playdeck/internal/core"
)

func convertFullTracks(tracks []spotify.FullTrack) []core.Track {
	result := make([]core.Track, 0, len(tracks))
	for i := range tracks {
		result = append(result, convertFullTrack(&tracks[i]))
	}
	return result
}

func convertFullTrack(track *spotify.FullTrack) core.Track {
	t := convertSimpleTrack(&track.SimpleTrack)
	t.Album = core.Album{
		ID:     string(track.Album.ID),
		Name:   track.Album.Name,
		Images: convertImages(track.Album.Images),
	}
	return t
}

// convertSimpleTrack converts the track shape used by play history, which carries no album.
func convertSimpleTrack(track *spotify.SimpleTrack) core.Track {
	artists := make([]core.Artist, 0, len(track.Artists))
	for _, artist := range track.Artists {
		artists = append(artists, core.Artist{ID: string(artist.ID), Name: artist.Name})
	}
	if len(artists) == 0 {
		artists = append(artists, core.Artist{Name: UnknownArtist})
	}

	return core.Track{
		ID:         string(track.ID),
		Name:       track.Name,
		URI:        string(track.URI),
		Artists:    artists,
		DurationMs: int(track.Duration),
		PreviewURL: track.PreviewURL,
		URL:        track.ExternalURLs["spotify"],
	}
}

func convertImages(images []spotify.Image) []core.Image {
	result := make([]core.Image, 0, len(images))
	for _, img := range images {
		result = append(result, core.Image{
			URL:    img.URL,
			Height: int(img.Height),
			Width:  int(img.Width),
		})
	}
	return result
}

func convertDevice(device *spotify.PlayerDevice) core.Device {
	return core.Device{
		ID:            device.ID.String(),
		Name:          device.Name,
		Type:          device.Type,
		Active:        device.Active,
		VolumePercent: int(device.Volume),
	}
}
