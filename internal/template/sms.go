package template

import "strings"

const (
	gsmSingleLimit     = 160
	gsmMultipartLimit  = 153
	unicodeSingleLimit = 70
	unicodeMultiLimit  = 67
)

// GSM 03.38 basic character set, and the extension table characters that
// take two septets each.
const (
	gsmBasic    = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"
	gsmExtended = "^{}\\[~]|€\f"
)

// SMSMessage is rendered SMS content and the number of fragments it costs.
type SMSMessage struct {
	Content       string
	FragmentCount int
}

// RenderSMS fills placeholders and adds "prefix: " when prefix is set.
func RenderSMS(content string, values map[string]string, prefix string) SMSMessage {
	body := strings.TrimSpace(Substitute(content, values))
	if prefix != "" {
		body = prefix + ": " + body
	}
	return SMSMessage{Content: body, FragmentCount: FragmentCount(body)}
}

// FragmentCount returns how many SMS parts body is split into. Any character
// outside the GSM alphabet forces the whole message into UCS-2.
func FragmentCount(body string) int {
	septets := 0
	unicode := false
	chars := 0

	for _, r := range body {
		chars++
		switch {
		case strings.ContainsRune(gsmBasic, r):
			septets++
		case strings.ContainsRune(gsmExtended, r):
			septets += 2
		default:
			unicode = true
		}
	}

	if unicode {
		return fragments(chars, unicodeSingleLimit, unicodeMultiLimit)
	}
	return fragments(septets, gsmSingleLimit, gsmMultipartLimit)
}

func fragments(length, single, multi int) int {
	if length <= single {
		return 1
	}
	return (length + multi - 1) / multi
}
