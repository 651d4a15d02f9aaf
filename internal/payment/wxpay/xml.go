package wxpay

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
)

const xmlRoot = "xml"

// EncodeXML 将扁平参数编码为网关 XML 报文，字段按 key 排序输出。
// 文本统一转义（含 CR/LF/TAB），保证 DecodeXML 可无损还原。
func EncodeXML(params map[string]string) []byte {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("<" + xmlRoot + ">")
	for _, k := range keys {
		buf.WriteString("<" + k + ">")
		_ = xml.EscapeText(&buf, []byte(params[k]))
		buf.WriteString("</" + k + ">")
	}
	buf.WriteString("</" + xmlRoot + ">")
	return buf.Bytes()
}

// DecodeXML 解析网关 XML 报文为扁平 map，兼容 CDATA 与转义文本。
// 空元素保留为空字符串；出现嵌套元素视为格式错误。
func DecodeXML(body []byte) (map[string]string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrWireFormat)
	}
	dec := xml.NewDecoder(bytes.NewReader(body))
	result := make(map[string]string)
	depth := 0
	sawRoot := false
	key := ""
	var value bytes.Buffer

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWireFormat, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				if sawRoot {
					return nil, fmt.Errorf("%w: multiple root elements", ErrWireFormat)
				}
				sawRoot = true
			case 2:
				key = t.Name.Local
				value.Reset()
			default:
				return nil, fmt.Errorf("%w: nested element %s", ErrWireFormat, t.Name.Local)
			}
		case xml.CharData:
			if depth == 2 {
				value.Write(t)
			}
		case xml.EndElement:
			if depth == 2 {
				result[key] = value.String()
			}
			depth--
		}
	}
	if !sawRoot {
		return nil, fmt.Errorf("%w: root element missing", ErrWireFormat)
	}
	return result, nil
}

// EncodeAck 生成回调应答报文 {return_code, return_msg}
func EncodeAck(code, msg string) []byte {
	return EncodeXML(map[string]string{
		"return_code": code,
		"return_msg":  msg,
	})
}
