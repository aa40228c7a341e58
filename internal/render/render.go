package render

import (
	_ "embed"
	"strings"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"categorytree/rewriter/internal/domain"
)

const (
	GlyphClosed = "📂"
	GlyphOpen   = "📁"
	GlyphLeaf   = "📄"

	ClassTree     = "category-tree"
	ClassItem     = "category-item"
	ClassParent   = "category-parent"
	ClassChildren = "category-children"
	ClassCount    = "category-count"
	ClassShow     = "show"
	ClassExpanded = "expanded"

	PathAttr   = "data-category-path"
	scriptAttr = "data-category-tree"
)

//go:embed assets/category-tree.js
var toggleScript string

type Options struct {
	InjectScript bool
}

// Render replaces the container contents with the nested category list.
// The first h2, h3 or h4 heading of the container is kept on top.
func Render(container *goquery.Selection, tree *domain.Tree, opts Options) *goquery.Selection {
	heading := container.Find("h2, h3, h4").First()
	var headingNode *html.Node
	if heading.Length() > 0 {
		headingNode = heading.Get(0)
	}

	container.Empty()
	if headingNode != nil {
		if headingNode.Parent != nil {
			headingNode.Parent.RemoveChild(headingNode)
		}
		container.AppendNodes(headingNode)
	}

	root := element(atom.Ul, ClassTree)
	buildLevel(root, tree, tree.Roots)
	container.AppendNodes(root)

	if opts.InjectScript {
		script := &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Script,
			Data:     "script",
			Attr:     []html.Attribute{{Key: scriptAttr, Val: ""}},
		}
		script.AppendChild(&html.Node{Type: html.TextNode, Data: toggleScript})
		container.AppendNodes(script)
	}

	log.Debugf("Rendered category tree with %d nodes", len(tree.Nodes))
	return container.ChildrenFiltered("ul." + ClassTree)
}

func buildLevel(list *html.Node, tree *domain.Tree, ids []int) {
	for _, id := range ids {
		node := tree.Nodes[id]

		item := element(atom.Li, ClassItem)
		link := element(atom.A, "")
		link.Attr = append(link.Attr,
			html.Attribute{Key: "href", Val: node.Record.Href},
			html.Attribute{Key: PathAttr, Val: node.Record.Path},
		)

		glyph := GlyphLeaf
		if node.Expandable {
			glyph = GlyphClosed
			link.Attr = append(link.Attr,
				html.Attribute{Key: "class", Val: ClassParent},
				html.Attribute{Key: "style", Val: "cursor: pointer"},
			)
		}

		link.AppendChild(text(glyph + " " + node.Record.Name + " "))
		count := element(atom.Span, ClassCount)
		count.AppendChild(text("(" + node.Record.Count + ")"))
		link.AppendChild(count)
		item.AppendChild(link)

		if node.Expandable {
			children := element(atom.Ul, ClassChildren)
			item.AppendChild(children)
			buildLevel(children, tree, node.Children)
		}

		list.AppendChild(item)
	}
}

// ApplyIntent mirrors a toggle on the rendered markup.
// It reports whether the node is now expanded and whether anything changed.
func ApplyIntent(container *goquery.Selection, tree *domain.Tree, intent domain.Intent) (expanded, applied bool) {
	node, ok := tree.Node(intent.NodeID)
	if !ok || intent.Action != domain.ActionToggle {
		return false, false
	}

	link := container.Find("a." + ClassParent).FilterFunction(func(i int, s *goquery.Selection) bool {
		return s.AttrOr(PathAttr, "") == node.Record.Path
	}).First()
	if link.Length() == 0 {
		return false, false
	}

	item := link.Parent()
	children := item.ChildrenFiltered("ul." + ClassChildren)
	if children.Length() == 0 {
		log.Debugf("No child list for %s, skipping toggle", node.Record.Path)
		return false, false
	}

	if children.HasClass(ClassShow) {
		children.RemoveClass(ClassShow)
		item.RemoveClass(ClassExpanded)
		swapGlyph(link, GlyphOpen, GlyphClosed)
		return false, true
	}

	children.AddClass(ClassShow)
	item.AddClass(ClassExpanded)
	swapGlyph(link, GlyphClosed, GlyphOpen)
	return true, true
}

func swapGlyph(link *goquery.Selection, from, to string) {
	first := link.Get(0).FirstChild
	if first != nil && first.Type == html.TextNode {
		first.Data = strings.Replace(first.Data, from, to, 1)
	}
}

func element(a atom.Atom, class string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	if class != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: class})
	}
	return n
}

func text(data string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: data}
}
