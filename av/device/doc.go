// Package device provides the microphones and speakers a call manager
// can be wired to: the system devices through miniaudio, WAV files and a
// tone generator for input, and raw PCM files or nothing for output.
//
// Every source paces itself in real time, one frame per frame duration,
// so the capture loop sees the same cadence whether it reads hardware or a
// file. Selectors such as "wav:/tmp/hello.wav" or "null" are parsed by
// ParseMicrophone and ParseSpeaker.
package device
