package audio

// Mixer folds the Opus streams of several speakers into a single PCM stream.
type Mixer interface {
	WriteOpusPacket(speakerID string, opus []byte)
	// ReadMixedPCM fills buf with at most one mixed frame and returns 0 when
	// no speaker has pending audio.
	ReadMixedPCM(buf []byte) (int, error)
	Close()
}

// MixerFactory creates a fresh Mixer for each capture run.
type MixerFactory func() Mixer
