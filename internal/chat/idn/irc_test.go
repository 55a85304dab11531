package idn

import "testing"

func TestParseLine(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		raw      string
		command  string
		prefix   string
		trailing string
		ok       bool
	}{
		{raw: "PING :idn.chat", command: "PING", trailing: "idn.chat", ok: true},
		{raw: ":fan!u@h PRIVMSG #room :{\"a\": \"b :c\"}", command: "PRIVMSG", prefix: "fan!u@h", trailing: "{\"a\": \"b :c\"}", ok: true},
		{raw: "@time=1 :srv 001 nick :Welcome", command: "001", prefix: "srv", trailing: "Welcome", ok: true},
		{raw: "privmsg #room hi", command: "PRIVMSG", trailing: "hi", ok: true},
		{raw: "\r\n", ok: false},
		{raw: ":onlyprefix", ok: false},
	}
	for _, testCase := range testCases {
		parsed, ok := parseLine(testCase.raw)
		if ok != testCase.ok {
			test.Fatalf("%q: expected ok=%v", testCase.raw, testCase.ok)
		}
		if !ok {
			continue
		}
		if parsed.command != testCase.command || parsed.prefix != testCase.prefix || parsed.trailing() != testCase.trailing {
			test.Fatalf("%q: unexpected parse %+v", testCase.raw, parsed)
		}
	}
}

func TestSplitFrames(test *testing.T) {
	test.Parallel()
	frames := splitFrames("PING :a\r\nPRIVMSG #b :c\r\n")
	if len(frames) != 2 || frames[1] != "PRIVMSG #b :c" {
		test.Fatalf("unexpected frames %v", frames)
	}
}
